package main

import (
	"bytes"
	"crypto/subtle"
	"encoding/base64"
	"html/template"
	"net"
	"net/http"
	"net/url"

	"github.com/skip2/go-qrcode"
)

// agentURL is the websocket endpoint for a page agent. The caller appends its
// tab id.
func agentURL(host, token string) string {
	u := url.URL{Scheme: "ws", Host: host, Path: "/ws", RawQuery: url.Values{"token": {token}}.Encode()}
	return u.String() + "&tab="
}

// loopbackOnly rejects requests that did not come from this machine.
func loopbackOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isLoopbackRequest(r) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func isLoopbackRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) validateToken(r *http.Request) bool {
	return secureEqual(r.URL.Query().Get("token"), s.cfg.Token)
}

// validateAuth checks basic auth. Without configured credentials every
// loopback caller may see the connect page.
func (s *Server) validateAuth(r *http.Request) bool {
	if s.cfg.AuthUser == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	return ok && secureEqual(user, s.cfg.AuthUser) && secureEqual(pass, s.cfg.AuthPass)
}

func secureEqual(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// handleConnect serves a page with the agent URL and its QR code.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if !s.validateAuth(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="overlay-bridge"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	wsURL := agentURL(r.Host, s.cfg.Token)
	png, err := qrcode.Encode(wsURL, qrcode.Medium, 256)
	if err != nil {
		http.Error(w, "qr code: "+err.Error(), http.StatusInternalServerError)
		return
	}

	var page bytes.Buffer
	err = connectPage.Execute(&page, struct {
		QR  template.URL
		URL string
	}{
		QR:  template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png)),
		URL: wsURL,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page.Bytes())
}

// terminalQR renders wsURL with half-block characters.
func terminalQR(wsURL string) (string, error) {
	q, err := qrcode.New(wsURL, qrcode.Low)
	if err != nil {
		return "", err
	}
	return q.ToSmallString(false), nil
}

var connectPage = template.Must(template.New("connect").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Web App Reader bridge</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 40rem; margin: 2rem auto; padding: 0 1rem; }
img { width: 16rem; height: 16rem; border: 1px solid #ddd; padding: .5rem; }
code { display: block; margin-top: 1rem; padding: .75rem; background: #f4f4f4; word-break: break-all; }
</style>
</head>
<body>
<h1>Web App Reader bridge</h1>
<p>Page agents connect to the endpoint below with their tab id appended. Only loopback clients are accepted.</p>
<img src="{{.QR}}" alt="QR code for the agent endpoint">
<code>{{.URL}}</code>
</body>
</html>
`))
