package jsonrpc

import "time"

// nowMillis 返回毫秒精度的当前 UNIX 时间，用作新发布消息的 timestamp 字段。
// §9 的 open question 说明这个字段只是不透明的对端提供数据，从不用于排序。
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
