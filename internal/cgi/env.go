package cgi

import (
	"strconv"
	"strings"

	"github.com/helouazizi/localserver/hdr"
	"github.com/helouazizi/localserver/internal/httpmsg"
)

// buildEnv constructs the CGI/1.1 environment for one request, per
// the minimum CGI/1.1 variable list plus one HTTP_* entry per
// inbound header.
func buildEnv(req *httpmsg.Request, scriptName, pathInfo, serverName string, serverPort uint16) []string {
	env := []string{
		"REQUEST_METHOD=" + req.Method,
		"SERVER_PROTOCOL=HTTP/1.1",
		"SERVER_NAME=" + serverName,
		"SERVER_PORT=" + strconv.Itoa(int(serverPort)),
		"SCRIPT_NAME=" + scriptName,
		"PATH_INFO=" + pathInfo,
		"QUERY_STRING=" + req.Query,
		"REMOTE_ADDR=" + req.RemoteAddr,
		"GATEWAY_INTERFACE=CGI/1.1",
	}
	if cl := req.Header.Get(hdr.ContentLength); cl != "" {
		env = append(env, "CONTENT_LENGTH="+cl)
	} else if len(req.Body) > 0 {
		env = append(env, "CONTENT_LENGTH="+strconv.Itoa(len(req.Body)))
	}
	if ct := req.Header.Get(hdr.ContentType); ct != "" {
		env = append(env, "CONTENT_TYPE="+ct)
	}
	for name, values := range req.Header {
		key := "HTTP_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		env = append(env, key+"="+strings.Join(values, ", "))
	}
	return env
}
