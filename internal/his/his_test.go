package his

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"
)

// testPortal is a minimal stand-in for the hospital portal: form login with
// a CSRF token, cookie-based sessions, and the handlers each test plugs in.
type testPortal struct {
	mux        *http.ServeMux
	server     *httptest.Server
	logins     atomic.Int32
	sessionSeq atomic.Int32
}

func newTestPortal() *testPortal {
	p := &testPortal{mux: http.NewServeMux()}

	p.mux.HandleFunc("/portal/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, `<form><input type="hidden" name="csrf_token" value="tok-123"></form>`)
			return
		}
		if r.FormValue("csrf_token") != "tok-123" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.FormValue("username") != "svc" || r.FormValue("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		p.logins.Add(1)
		http.SetCookie(w, &http.Cookie{
			Name:  "PORTALSESSION",
			Value: fmt.Sprintf("sess-%d", p.sessionSeq.Add(1)),
			Path:  "/",
		})
		w.WriteHeader(http.StatusOK)
	})

	p.server = httptest.NewServer(p.mux)
	return p
}

// authed wraps a handler with the portal's cookie check.
func (p *testPortal) authed(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("PORTALSESSION"); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func (p *testPortal) handle(path string, h http.HandlerFunc) {
	p.mux.HandleFunc(path, p.authed(h))
}

func (p *testPortal) client() *Client {
	return NewClient(Config{
		BaseURL:  p.server.URL,
		Username: "svc",
		Password: "secret",
		Timeout:  5 * time.Second,
	})
}

func (p *testPortal) close() {
	p.server.Close()
}

func searchRowMarkup(id int, folder, name string) string {
	return fmt.Sprintf(
		`<tr class="result-row" data-patient-id="%d"><td class="folder-no">%s</td><td class="patient-name">%s</td><td class="demographics">M / 1985-05-05</td></tr>`,
		id, folder, name)
}
