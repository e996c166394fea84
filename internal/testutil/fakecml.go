// Package testutil provides in-process fakes of the CML controller API and
// of an SSH server, so lab lifecycle code can be tested without a lab.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
)

// FakeLab is a lab held by FakeCML.
type FakeLab struct {
	ID       string
	Title    string
	State    string
	Topology []byte

	convergePolls int
}

// FakeCML serves the subset of /api/v0 that pkg/cml uses.
type FakeCML struct {
	Server   *httptest.Server
	Username string
	Password string

	// ConvergeAfter is the number of check_if_converged polls answered
	// false after a start before answering true. Negative never converges.
	ConvergeAfter int
	// FailImport makes /import answer 500.
	FailImport bool
	// ExpireToken makes the next authenticated call answer 401 once.
	ExpireToken bool

	mu     sync.Mutex
	token  int
	labs   map[string]*FakeLab
	nextID int
	calls  []string
}

// NewFakeCML starts a fake controller accepting admin/admin. It is closed
// by t.Cleanup.
func NewFakeCML(t *testing.T) *FakeCML {
	t.Helper()
	f := &FakeCML{
		Username: "admin",
		Password: "admin",
		labs:     make(map[string]*FakeLab),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v0/authenticate", f.authenticate)
	mux.HandleFunc("GET /api/v0/labs", f.authed(f.listLabs))
	mux.HandleFunc("GET /api/v0/labs/{id}", f.authed(f.getLab))
	mux.HandleFunc("DELETE /api/v0/labs/{id}", f.authed(f.deleteLab))
	mux.HandleFunc("POST /api/v0/import", f.authed(f.importLab))
	mux.HandleFunc("PUT /api/v0/labs/{id}/start", f.authed(f.transition("", "STARTED")))
	mux.HandleFunc("PUT /api/v0/labs/{id}/stop", f.authed(f.transition("", "STOPPED")))
	mux.HandleFunc("PUT /api/v0/labs/{id}/wipe", f.authed(f.transition("STOPPED", "DEFINED_ON_CORE")))
	mux.HandleFunc("GET /api/v0/labs/{id}/state", f.authed(f.labState))
	mux.HandleFunc("GET /api/v0/labs/{id}/check_if_converged", f.authed(f.converged))

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the controller base URL.
func (f *FakeCML) URL() string {
	return f.Server.URL
}

// AddLab inserts a lab as if it already existed and returns its id.
func (f *FakeCML) AddLab(title, state string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addLocked(title, state, nil)
}

func (f *FakeCML) addLocked(title, state string, topology []byte) string {
	f.nextID++
	id := fmt.Sprintf("%06x", 0x9fde00+f.nextID)
	f.labs[id] = &FakeLab{ID: id, Title: title, State: state, Topology: topology}
	return id
}

// Lab returns a copy of a lab, or nil when it does not exist.
func (f *FakeCML) Lab(id string) *FakeLab {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.labs[id]
	if !ok {
		return nil
	}
	cp := *l
	return &cp
}

// LabIDs returns the ids of all labs held, sorted.
func (f *FakeCML) LabIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.labs))
	for id := range f.labs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LabCount returns the number of labs held.
func (f *FakeCML) LabCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.labs)
}

// Calls returns "METHOD /path" for every request received, in order.
func (f *FakeCML) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount counts received requests starting with prefix, e.g. "PUT".
func (f *FakeCML) CallCount(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *FakeCML) record(r *http.Request) {
	f.mu.Lock()
	f.calls = append(f.calls, r.Method+" "+strings.TrimPrefix(r.URL.Path, "/api/v0"))
	f.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (f *FakeCML) authenticate(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"description": err.Error()})
		return
	}
	if creds.Username != f.Username || creds.Password != f.Password {
		writeJSON(w, http.StatusForbidden, map[string]string{"description": "Authentication failed!"})
		return
	}
	f.mu.Lock()
	f.token++
	token := fmt.Sprintf("token-%d", f.token)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, token)
}

func (f *FakeCML) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		want := fmt.Sprintf("Bearer token-%d", f.token)
		valid := f.token > 0 && !f.ExpireToken
		f.ExpireToken = false
		f.mu.Unlock()
		if !valid || r.Header.Get("Authorization") != want {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"description": "No authorization token provided."})
			return
		}
		next(w, r)
	}
}

func (f *FakeCML) listLabs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, f.LabIDs())
}

func (f *FakeCML) lookup(w http.ResponseWriter, r *http.Request) (*FakeLab, bool) {
	id := r.PathValue("id")
	l, ok := f.labs[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"description": fmt.Sprintf("Lab not found: %s", id)})
	}
	return l, ok
}

func (f *FakeCML) getLab(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":         l.ID,
		"lab_title":  l.Title,
		"state":      l.State,
		"node_count": 2,
		"link_count": 1,
	})
}

func (f *FakeCML) deleteLab(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lookup(w, r)
	if !ok {
		return
	}
	if l.State != "DEFINED_ON_CORE" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"description": "Lab must be stopped and wiped"})
		return
	}
	delete(f.labs, l.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeCML) importLab(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailImport {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"description": "import failed"})
		return
	}
	id := f.addLocked(r.URL.Query().Get("title"), "DEFINED_ON_CORE", body)
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "warnings": []string{}})
}

func (f *FakeCML) transition(from, to string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		l, ok := f.lookup(w, r)
		if !ok {
			return
		}
		if from != "" && l.State != from {
			writeJSON(w, http.StatusBadRequest, map[string]string{"description": "Lab must be " + from})
			return
		}
		l.State = to
		if to == "STARTED" {
			l.convergePolls = 0
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (f *FakeCML) labState(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, l.State)
}

func (f *FakeCML) converged(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lookup(w, r)
	if !ok {
		return
	}
	l.convergePolls++
	done := l.State == "STARTED" && f.ConvergeAfter >= 0 && l.convergePolls > f.ConvergeAfter
	writeJSON(w, http.StatusOK, done)
}
