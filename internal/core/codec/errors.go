package codec

import "errors"

// ErrSignatureInvalid 表示消息签名或作者标识无法验证。
var ErrSignatureInvalid = errors.New("signature invalid")
