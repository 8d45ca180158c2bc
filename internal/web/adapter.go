package web

import (
	"net/http"
	"strings"

	"github.com/TimurManjosov/flagship-webdemo/internal/evalctx"
	"github.com/TimurManjosov/flagship-webdemo/internal/reason"
)

const (
	// userParam is the query parameter carrying the evaluation identity.
	userParam = "user"

	DefaultUserKey    = "anon"
	DefaultVisitorKey = "web-visitor"
)

// ContextFromRequest builds an evaluation context from the `user` query
// parameter, falling back to defaultKey when it is missing or blank.
func ContextFromRequest(r *http.Request, defaultKey string) evalctx.Context {
	key := strings.TrimSpace(r.URL.Query().Get(userParam))
	if key == "" {
		key = defaultKey
	}
	return evalctx.New(key)
}

type flagResponse struct {
	Flag  string `json:"flag"`
	User  string `json:"user"`
	Value bool   `json:"value"`
}

type flagDetailResponse struct {
	flagResponse
	Reason reason.Reason `json:"reason"`
}

type statusResponse struct {
	Initialized bool   `json:"launchdarkly_initialized"`
	Status      string `json:"status"`
}

func newStatusResponse(initialized bool) statusResponse {
	status := "initializing"
	if initialized {
		status = "ready"
	}
	return statusResponse{Initialized: initialized, Status: status}
}
