// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package drive

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// fakeDrive is an in-memory Drive v3 lookalike behind httptest. It
// implements just enough of the surface the client touches: listing
// with the query shapes this package generates, JSON and multipart
// and resumable uploads, ranged downloads, permissions and deletes.
type fakeDrive struct {
	t *testing.T

	mu       sync.Mutex
	files    map[string]*fakeFile
	sessions map[string]*uploadSession
	seq      int
	permSeq  int

	// queries records every q= parameter verbatim.
	queries []string
	// requests counts calls by "METHOD suffix".
	requests map[string]int

	// failRemaining makes the next n requests answer failCode,
	// optionally restricted to one HTTP method.
	failRemaining int
	failCode      int
	failMethod    string

	server *httptest.Server
}

type fakeFile struct {
	id       string
	name     string
	mime     string
	parents  []string
	content  []byte
	trashed  bool
	headRev  int
	modified string
	perms    []*drivev3.Permission
}

type uploadSession struct {
	fileID  string
	name    string
	mime    string
	parents []string
	buf     []byte
	total   int64
}

var fakeEpoch = time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

func newFakeDrive(t *testing.T) *fakeDrive {
	t.Helper()
	fd := &fakeDrive{
		t:        t,
		files:    make(map[string]*fakeFile),
		sessions: make(map[string]*uploadSession),
		requests: make(map[string]int),
	}
	fd.server = httptest.NewServer(http.HandlerFunc(fd.handle))
	t.Cleanup(fd.server.Close)
	return fd
}

// client builds a Client pointed at the fake server.
func (fd *fakeDrive) client(t *testing.T, cfg Config) *Client {
	t.Helper()
	svc, err := drivev3.NewService(context.Background(),
		option.WithEndpoint(fd.server.URL),
		option.WithHTTPClient(fd.server.Client()))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return newClientWithService(svc, cfg, zerolog.Nop())
}

func (fd *fakeDrive) failNext(n, code int) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.failRemaining = n
	fd.failCode = code
	fd.failMethod = ""
}

// failNextMethod injects failures only into requests of one HTTP
// method, so lookups before the targeted call stay unaffected.
func (fd *fakeDrive) failNextMethod(method string, n, code int) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.failRemaining = n
	fd.failCode = code
	fd.failMethod = method
}

func (fd *fakeDrive) remainingFailures() int {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.failRemaining
}

func (fd *fakeDrive) addFolder(name string, parents ...string) string {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.insert(name, folderMimeType, parents, nil)
}

func (fd *fakeDrive) addFile(name, mimeType string, content []byte, parents ...string) string {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.insert(name, mimeType, parents, content)
}

func (fd *fakeDrive) fileByID(id string) *fakeFile {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.files[id]
}

func (fd *fakeDrive) fileByName(name string) *fakeFile {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	for _, f := range fd.files {
		if f.name == name && !f.trashed {
			return f
		}
	}
	return nil
}

func (fd *fakeDrive) count(key string) int {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.requests[key]
}

func (fd *fakeDrive) capturedQueries() []string {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return append([]string(nil), fd.queries...)
}

// insert requires fd.mu held.
func (fd *fakeDrive) insert(name, mimeType string, parents []string, content []byte) string {
	fd.seq++
	id := fmt.Sprintf("f%03d", fd.seq)
	fd.files[id] = &fakeFile{
		id:       id,
		name:     name,
		mime:     mimeType,
		parents:  append([]string(nil), parents...),
		content:  content,
		headRev:  1,
		modified: fakeEpoch.Add(time.Duration(fd.seq) * time.Second).Format(time.RFC3339),
	}
	return id
}

func (fd *fakeDrive) handle(w http.ResponseWriter, r *http.Request) {
	fd.mu.Lock()
	if fd.failRemaining > 0 && (fd.failMethod == "" || fd.failMethod == r.Method) {
		fd.failRemaining--
		code := fd.failCode
		fd.mu.Unlock()
		http.Error(w, `{"error":{"code":`+strconv.Itoa(code)+`,"message":"injected"}}`, code)
		return
	}
	fd.mu.Unlock()

	if strings.HasPrefix(r.URL.Path, "/upload-session/") {
		fd.handleSession(w, r, strings.TrimPrefix(r.URL.Path, "/upload-session/"))
		return
	}

	idx := strings.Index(r.URL.Path, "/files")
	if idx < 0 {
		http.NotFound(w, r)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path[idx:], "/files")
	rest = strings.TrimPrefix(rest, "/")

	fd.mu.Lock()
	fd.requests[r.Method+" /files/"+rest]++
	fd.mu.Unlock()

	switch {
	case rest == "" && r.Method == http.MethodGet:
		fd.handleList(w, r)
	case rest == "" && r.Method == http.MethodPost:
		fd.handleCreate(w, r)
	case strings.HasSuffix(rest, "/permissions") && r.Method == http.MethodPost:
		fd.handlePermissionCreate(w, r, strings.TrimSuffix(rest, "/permissions"))
	case strings.HasSuffix(rest, "/permissions") && r.Method == http.MethodGet:
		fd.handlePermissionList(w, strings.TrimSuffix(rest, "/permissions"))
	case strings.Contains(rest, "/permissions/") && r.Method == http.MethodDelete:
		parts := strings.SplitN(rest, "/permissions/", 2)
		fd.handlePermissionDelete(w, parts[0], parts[1])
	case r.Method == http.MethodGet:
		fd.handleGet(w, r, rest)
	case r.Method == http.MethodPatch:
		fd.handleUpdate(w, r, rest)
	case r.Method == http.MethodDelete:
		fd.handleDelete(w, rest)
	default:
		http.Error(w, "unsupported", http.StatusBadRequest)
	}
}

var listQueryRe = regexp.MustCompile(`^(?:name = '(.*)' and mimeType (=|!=) '([^']+)' and )?'([^']+)' in parents and trashed = false$`)

func unescapeQueryName(s string) string {
	s = strings.ReplaceAll(s, `\'`, `'`)
	return strings.ReplaceAll(s, `\\`, `\`)
}

func (fd *fakeDrive) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	fd.mu.Lock()
	fd.queries = append(fd.queries, q)

	m := listQueryRe.FindStringSubmatch(q)
	if m == nil {
		fd.mu.Unlock()
		http.Error(w, "unsupported query: "+q, http.StatusBadRequest)
		return
	}
	parent := m[4]
	var matched []*fakeFile
	for _, f := range fd.files {
		if f.trashed || !contains(f.parents, parent) {
			continue
		}
		if m[2] != "" {
			isFolder := f.mime == folderMimeType
			wantFolder := m[3] == folderMimeType
			if (m[2] == "=") != (isFolder == wantFolder) {
				continue
			}
			if m[1] != "" && f.name != unescapeQueryName(m[1]) {
				continue
			}
		}
		matched = append(matched, f)
	}
	fd.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].name < matched[j].name })

	offset := 0
	if tok := r.URL.Query().Get("pageToken"); tok != "" {
		offset, _ = strconv.Atoi(strings.TrimPrefix(tok, "pt-"))
	}
	pageSize := len(matched)
	if ps := r.URL.Query().Get("pageSize"); ps != "" {
		if n, err := strconv.Atoi(ps); err == nil && n > 0 {
			pageSize = n
		}
	}
	end := offset + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	list := &drivev3.FileList{}
	for _, f := range matched[offset:end] {
		list.Files = append(list.Files, fd.apiFile(f))
	}
	if end < len(matched) {
		list.NextPageToken = "pt-" + strconv.Itoa(end)
	}
	writeJSON(w, list)
}

func (fd *fakeDrive) handleCreate(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("uploadType") {
	case "resumable":
		fd.startSession(w, r, "")
	case "multipart":
		fd.multipartUpload(w, r, "")
	default:
		var meta drivev3.File
		if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fd.mu.Lock()
		id := fd.insert(meta.Name, meta.MimeType, meta.Parents, nil)
		f := fd.files[id]
		fd.mu.Unlock()
		writeJSON(w, fd.apiFile(f))
	}
}

func (fd *fakeDrive) handleUpdate(w http.ResponseWriter, r *http.Request, id string) {
	switch r.URL.Query().Get("uploadType") {
	case "resumable":
		fd.startSession(w, r, id)
	case "multipart":
		fd.multipartUpload(w, r, id)
	default:
		var meta drivev3.File
		if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fd.mu.Lock()
		f, ok := fd.files[id]
		if ok && meta.Name != "" {
			f.name = meta.Name
		}
		fd.mu.Unlock()
		if !ok {
			notFoundJSON(w)
			return
		}
		writeJSON(w, fd.apiFile(f))
	}
}

func (fd *fakeDrive) startSession(w http.ResponseWriter, r *http.Request, fileID string) {
	var meta drivev3.File
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fd.mu.Lock()
	fd.seq++
	token := fmt.Sprintf("s%03d", fd.seq)
	fd.sessions[token] = &uploadSession{
		fileID:  fileID,
		name:    meta.Name,
		mime:    r.Header.Get("X-Upload-Content-Type"),
		parents: meta.Parents,
	}
	fd.mu.Unlock()
	w.Header().Set("Location", "http://"+r.Host+"/upload-session/"+token)
	w.WriteHeader(http.StatusOK)
}

// Non-final chunks arrive as "bytes a-b/*"; the final one carries the
// real total, or "bytes */N" when the finalize request has no body.
var contentRangeRe = regexp.MustCompile(`^bytes (?:(\d+)-(\d+)|\*)/(\d+|\*)$`)

func (fd *fakeDrive) handleSession(w http.ResponseWriter, r *http.Request, token string) {
	fd.mu.Lock()
	sess, ok := fd.sessions[token]
	fd.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m := contentRangeRe.FindStringSubmatch(r.Header.Get("Content-Range"))
	if m == nil {
		http.Error(w, "bad content-range", http.StatusBadRequest)
		return
	}

	fd.mu.Lock()
	sess.buf = append(sess.buf, body...)
	final := m[3] != "*"
	if final {
		sess.total, _ = strconv.ParseInt(m[3], 10, 64)
	}
	if !final {
		fd.mu.Unlock()
		w.Header().Set("Range", "bytes=0-"+m[2])
		// The Google SDK sends "X-GUploader-No-308: yes" and treats a raw
		// 308 as an error; the incomplete status must arrive as a 200 with
		// the override header, matching the real endpoint.
		if r.Header.Get("X-GUploader-No-308") == "yes" {
			w.Header().Set("X-Http-Status-Code-Override", "308")
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(308)
		}
		return
	}
	f := fd.commitSession(sess)
	delete(fd.sessions, token)
	fd.mu.Unlock()
	writeJSON(w, fd.apiFile(f))
}

// commitSession requires fd.mu held.
func (fd *fakeDrive) commitSession(sess *uploadSession) *fakeFile {
	if sess.fileID != "" {
		f := fd.files[sess.fileID]
		f.content = sess.buf
		f.headRev++
		if sess.name != "" {
			f.name = sess.name
		}
		return f
	}
	id := fd.insert(sess.name, sess.mime, sess.parents, sess.buf)
	return fd.files[id]
}

func (fd *fakeDrive) multipartUpload(w http.ResponseWriter, r *http.Request, fileID string) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mr := multipart.NewReader(r.Body, params["boundary"])
	metaPart, err := mr.NextPart()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var meta drivev3.File
	if err := json.NewDecoder(metaPart).Decode(&meta); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mediaPart, err := mr.NextPart()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	content, err := io.ReadAll(mediaPart)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	fd.mu.Lock()
	var f *fakeFile
	if fileID != "" {
		f = fd.files[fileID]
		if f != nil {
			f.content = content
			f.headRev++
			if meta.Name != "" {
				f.name = meta.Name
			}
		}
	} else {
		id := fd.insert(meta.Name, mediaPart.Header.Get("Content-Type"), meta.Parents, content)
		f = fd.files[id]
	}
	fd.mu.Unlock()
	if f == nil {
		notFoundJSON(w)
		return
	}
	writeJSON(w, fd.apiFile(f))
}

func (fd *fakeDrive) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	fd.mu.Lock()
	f, ok := fd.files[id]
	fd.mu.Unlock()
	if !ok {
		notFoundJSON(w)
		return
	}
	if r.URL.Query().Get("alt") != "media" {
		writeJSON(w, fd.apiFile(f))
		return
	}
	content := f.content
	if rng := r.Header.Get("Range"); rng != "" {
		var start, end int64
		if n, _ := fmt.Sscanf(rng, "bytes=%d-%d", &start, &end); n == 2 {
			if end >= int64(len(content)) {
				end = int64(len(content)) - 1
			}
			body := content[start : end+1]
			w.Header().Set("Content-Range",
				fmt.Sprintf("bytes %d-%d/%d", start, end, len(content)))
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(body)
			return
		}
		if n, _ := fmt.Sscanf(rng, "bytes=%d-", &start); n == 1 {
			body := content[start:]
			w.Header().Set("Content-Range",
				fmt.Sprintf("bytes %d-%d/%d", start, int64(len(content))-1, len(content)))
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(body)
			return
		}
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	_, _ = w.Write(content)
}

func (fd *fakeDrive) handleDelete(w http.ResponseWriter, id string) {
	fd.mu.Lock()
	_, ok := fd.files[id]
	delete(fd.files, id)
	fd.mu.Unlock()
	if !ok {
		notFoundJSON(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (fd *fakeDrive) handlePermissionCreate(w http.ResponseWriter, r *http.Request, id string) {
	var perm drivev3.Permission
	if err := json.NewDecoder(r.Body).Decode(&perm); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fd.mu.Lock()
	f, ok := fd.files[id]
	if ok {
		fd.permSeq++
		perm.Id = fmt.Sprintf("perm%03d", fd.permSeq)
		f.perms = append(f.perms, &perm)
	}
	fd.mu.Unlock()
	if !ok {
		notFoundJSON(w)
		return
	}
	writeJSON(w, &perm)
}

func (fd *fakeDrive) handlePermissionList(w http.ResponseWriter, id string) {
	fd.mu.Lock()
	f, ok := fd.files[id]
	var list drivev3.PermissionList
	if ok {
		list.Permissions = append(list.Permissions, f.perms...)
	}
	fd.mu.Unlock()
	if !ok {
		notFoundJSON(w)
		return
	}
	writeJSON(w, &list)
}

func (fd *fakeDrive) handlePermissionDelete(w http.ResponseWriter, fileID, permID string) {
	fd.mu.Lock()
	f, ok := fd.files[fileID]
	found := false
	if ok {
		kept := f.perms[:0]
		for _, p := range f.perms {
			if p.Id == permID {
				found = true
				continue
			}
			kept = append(kept, p)
		}
		f.perms = kept
	}
	fd.mu.Unlock()
	if !ok || !found {
		notFoundJSON(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (fd *fakeDrive) apiFile(f *fakeFile) *drivev3.File {
	sum := md5.Sum(f.content)
	return &drivev3.File{
		Id:             f.id,
		Name:           f.name,
		MimeType:       f.mime,
		Size:           int64(len(f.content)),
		Md5Checksum:    hex.EncodeToString(sum[:]),
		ModifiedTime:   f.modified,
		Parents:        append([]string(nil), f.parents...),
		HeadRevisionId: fmt.Sprintf("rev-%d", f.headRev),
		WebViewLink:    "https://drive.example/view/" + f.id,
		WebContentLink: "https://drive.example/dl/" + f.id,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func notFoundJSON(w http.ResponseWriter) {
	http.Error(w, `{"error":{"code":404,"message":"File not found"}}`, http.StatusNotFound)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
