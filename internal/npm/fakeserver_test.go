package npm

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"

	"github.com/go-chi/chi/v5"
)

type upload struct {
	certificate string
	key         string
}

// fakeNPM is an in-memory stand-in for the proxy manager API.
type fakeNPM struct {
	server *httptest.Server

	mu       sync.Mutex
	user     string
	password string
	token    string
	logins   int
	tokenFn  func(n int) string
	calls    map[string]int
	inject   map[string][]int
	hosts    map[int]map[string]any
	certs    []map[string]any
	nextCert int
	uploads  map[int]upload
	puts     map[int]map[string]any
	deleted  []int
	rawBody  map[string]string
}

func newFakeNPM() *fakeNPM {
	f := &fakeNPM{
		user:     "admin@example.com",
		password: "changeme",
		calls:    map[string]int{},
		inject:   map[string][]int{},
		hosts:    map[int]map[string]any{},
		nextCert: 100,
		uploads:  map[int]upload{},
		puts:     map[int]map[string]any{},
		rawBody:  map[string]string{},
	}

	r := chi.NewRouter()
	r.Post("/api/tokens", f.handleLogin)
	r.Route("/api/nginx", func(r chi.Router) {
		r.Use(f.authenticate)
		r.Get("/proxy-hosts", f.handleListHosts)
		r.Get("/proxy-hosts/{id}", f.handleGetHost)
		r.Put("/proxy-hosts/{id}", f.handlePutHost)
		r.Get("/certificates", f.handleListCerts)
		r.Post("/certificates", f.handleCreateCert)
		r.Delete("/certificates/{id}", f.handleDeleteCert)
		r.Post("/certificates/{id}/upload", f.handleUpload)
	})
	f.server = httptest.NewServer(f.intercept(r))
	return f
}

func (f *fakeNPM) Close() { f.server.Close() }

func (f *fakeNPM) URL() string { return f.server.URL }

// failNext queues status codes returned for a route key such as
// "GET /api/nginx/proxy-hosts" before the real handler runs.
func (f *fakeNPM) failNext(key string, statuses ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inject[key] = append(f.inject[key], statuses...)
}

// respondRaw makes a route return body verbatim with 200.
func (f *fakeNPM) respondRaw(key, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rawBody[key] = body
}

// expireToken invalidates the token currently held by clients.
func (f *fakeNPM) expireToken() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = "expired"
}

func (f *fakeNPM) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeNPM) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func (f *fakeNPM) uploadFor(id int) upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads[id]
}

func (f *fakeNPM) putFor(id int) (map[string]any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.puts[id]
	return body, ok
}

func (f *fakeNPM) deletedIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.deleted)
}

func (f *fakeNPM) setTokenFn(fn func(n int) string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenFn = fn
}

func (f *fakeNPM) setPassword(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.password = p
}

func (f *fakeNPM) addHost(id int, domains []string, certificateID int, provider string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	host := map[string]any{
		"id":             id,
		"domain_names":   domains,
		"certificate_id": certificateID,
		"created_on":     "2024-01-10 08:00:00",
	}
	if certificateID != 0 {
		host["certificate"] = map[string]any{"id": certificateID, "provider": provider}
	}
	f.hosts[id] = host
}

func (f *fakeNPM) addCert(id int, domains []string, expiresOn string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.certs = append(f.certs, map[string]any{
		"id":           id,
		"nice_name":    domains[0],
		"provider":     "other",
		"domain_names": domains,
		"expires_on":   expiresOn,
	})
}

func (f *fakeNPM) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		key := r.Method + " " + r.URL.Path
		f.calls[key]++
		queued := f.inject[key]
		var status int
		if len(queued) > 0 {
			status, f.inject[key] = queued[0], queued[1:]
		}
		raw, hasRaw := f.rawBody[key]
		f.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"injected"}}`, status)
			return
		}
		if hasRaw {
			_, _ = io.WriteString(w, raw)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *fakeNPM) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		ok := f.token != "" && r.Header.Get("Authorization") == "Bearer "+f.token
		f.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{"message": "Unauthorized"}})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeNPM) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Identity string `json:"identity"`
		Secret   string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": "bad json"}})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if body.Identity != f.user || body.Secret != f.password {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{"message": "Invalid password"}})
		return
	}
	f.logins++
	if f.tokenFn != nil {
		f.token = f.tokenFn(f.logins)
	} else {
		f.token = fmt.Sprintf("token-%d", f.logins)
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": f.token, "expires": "2099-01-01T00:00:00.000Z"})
}

func (f *fakeNPM) handleListHosts(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.URL.Query().Get("expand") != "certificate" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": "expand missing"}})
		return
	}
	out := make([]map[string]any, 0, len(f.hosts))
	for _, id := range slices.Sorted(maps.Keys(f.hosts)) {
		out = append(out, f.hosts[id])
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *fakeNPM) handleGetHost(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var id int
	_, _ = fmt.Sscan(chi.URLParam(r, "id"), &id)
	h, ok := f.hosts[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"message": "Not Found"}})
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (f *fakeNPM) handlePutHost(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, nil)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var id int
	_, _ = fmt.Sscan(chi.URLParam(r, "id"), &id)
	f.puts[id] = body
	if h, ok := f.hosts[id]; ok {
		h["certificate_id"] = body["certificate_id"]
	}
	writeJSON(w, http.StatusOK, f.hosts[id])
}

func (f *fakeNPM) handleListCerts(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusOK, f.certs)
}

func (f *fakeNPM) handleCreateCert(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["provider"] != "other" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": "bad request"}})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextCert++
	writeJSON(w, http.StatusCreated, map[string]any{"id": f.nextCert, "nice_name": body["nice_name"], "provider": "other"})
}

func (f *fakeNPM) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, nil)
		return
	}
	read := func(field string) string {
		file, _, err := r.FormFile(field)
		if err != nil {
			return ""
		}
		defer func() { _ = file.Close() }()
		data, _ := io.ReadAll(file)
		return string(data)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var id int
	_, _ = fmt.Sscan(chi.URLParam(r, "id"), &id)
	f.uploads[id] = upload{certificate: read("certificate"), key: read("certificate_key")}
	writeJSON(w, http.StatusOK, map[string]any{"certificate": "ok"})
}

func (f *fakeNPM) handleDeleteCert(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var id int
	_, _ = fmt.Sscan(chi.URLParam(r, "id"), &id)
	f.deleted = append(f.deleted, id)
	writeJSON(w, http.StatusOK, true)
}
