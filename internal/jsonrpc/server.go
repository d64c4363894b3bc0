// Package jsonrpc 实现 §6 描述的 JSON-RPC 管理面：一个运行在本地
// 管理端口上的 HTTP 端点，暴露 feed/message/peers/ping/publish/whoami
// 六个方法。这一层被规范明确列为外围协作者——HTTP 管道本身很简单，
// 值得关注的只是方法语义，因此这里直接用标准库搭建，不引入额外的
// HTTP 框架。
package jsonrpc

import (
	"encoding/json"
	"net/http"

	"github.com/ssbc/solar/internal/config"
	"github.com/ssbc/solar/internal/core/store"
	"github.com/ssbc/solar/internal/identity"
	"github.com/ssbc/solar/pkg/lib/log"
)

var logger = log.Logger("jsonrpc")

// DefaultPort 是管理面监听的默认端口。
const DefaultPort = 3030

// Server 是 JSON-RPC 管理面的句柄。
type Server struct {
	store *store.Store
	local *identity.Identity
	repl  *config.ReplicationConfig
}

// New 构造一个管理面服务器。
func New(st *store.Store, local *identity.Identity, repl *config.ReplicationConfig) *Server {
	return &Server{store: st, local: local, repl: repl}
}

// rpcRequest 是每个 HTTP 请求体承载的调用。
type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcResponse struct {
	Result interface{} `json:"result,omitempty"`
	Error  *rpcError   `json:"error,omitempty"`
}

type rpcError struct {
	Message string `json:"message"`
}

// Handler 返回可以直接喂给 http.Server 的 http.Handler。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRPC)
	return mux
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.dispatch(req.Method, req.Params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, result)
}

func (s *Server) dispatch(method string, params json.RawMessage) (interface{}, error) {
	switch method {
	case "feed":
		return s.feed(params)
	case "message":
		return s.message(params)
	case "peers":
		return s.peers()
	case "ping":
		return "pong!", nil
	case "publish":
		return s.publish(params)
	case "whoami":
		return s.whoami()
	default:
		return nil, errUnknownMethod(method)
	}
}

func writeResult(w http.ResponseWriter, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{Result: result})
}

func writeError(w http.ResponseWriter, err error) {
	logger.Warn("rpc call failed", "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(rpcResponse{Error: &rpcError{Message: err.Error()}})
}
