package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/sheets/v4"
)

const testSpreadsheetID = "sheet-1"

type fakeUpload struct {
	Meta        drive.File
	Data        []byte
	ContentType string
}

type fakeAppend struct {
	Range            string
	ValueInputOption string
	InsertDataOption string
	Values           [][]any
}

type fakeStatus struct {
	code int
	body string
}

// fakeGoogle serves the subset of the Drive and Sheets REST APIs the clients use.
type fakeGoogle struct {
	srv *httptest.Server

	mu          sync.Mutex
	tokens      map[string]bool
	requests    []string
	lastQuery   string
	folders     []*drive.File
	uploads     []fakeUpload
	tabs        []*sheets.SheetProperties
	nextSheetID int64
	tabValues   map[string][][]any
	updates     map[string][][]any
	appends     []fakeAppend
	batches     []map[string]any
	readQuery   map[string]string
	sheetsErr   *fakeStatus
}

func newFakeGoogle(t *testing.T, validTokens ...string) *fakeGoogle {
	t.Helper()

	f := &fakeGoogle{
		tokens:      make(map[string]bool),
		nextSheetID: 100,
		tabValues:   make(map[string][][]any),
		updates:     make(map[string][][]any),
		readQuery:   make(map[string]string),
	}
	for _, tok := range validTokens {
		f.tokens[tok] = true
	}
	f.srv = httptest.NewServer(f)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGoogle) services() *ServiceFactory {
	return NewServiceFactory(f.srv.Client().Transport, Endpoints{
		Drive:  f.srv.URL + "/drive/v3/",
		Sheets: f.srv.URL + "/",
	})
}

func (f *fakeGoogle) addTabs(titles ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, title := range titles {
		f.tabs = append(f.tabs, &sheets.SheetProperties{
			SheetId: f.nextSheetID,
			Title:   title,
			Index:   int64(len(f.tabs)),
		})
		f.nextSheetID++
	}
}

func (f *fakeGoogle) tabTitles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	titles := make([]string, len(f.tabs))
	for i, tab := range f.tabs {
		titles[i] = tab.Title
	}
	return titles
}

func (f *fakeGoogle) addFolder(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.folders = append(f.folders, &drive.File{Id: id, Name: name, MimeType: folderMimeType})
}

func (f *fakeGoogle) failSheets(code int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sheetsErr = &fakeStatus{code: code, body: body}
}

func (f *fakeGoogle) folderList() []*drive.File {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.folders)
}

func (f *fakeGoogle) uploadList() []fakeUpload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.uploads)
}

func (f *fakeGoogle) searchQuery() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQuery
}

func (f *fakeGoogle) appendList() []fakeAppend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.appends)
}

func (f *fakeGoogle) batchList() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.batches)
}

func (f *fakeGoogle) valuesOf(tab string) [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.tabValues[tab])
}

func (f *fakeGoogle) updateFor(rng string) [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates[rng]
}

func (f *fakeGoogle) readQueryFor(tab string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readQuery[tab]
}

func (f *fakeGoogle) requestLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.requests)
}

func (f *fakeGoogle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !f.tokens[token] {
		writeGoogleError(w, http.StatusUnauthorized, "Invalid Credentials", "authError")
		return
	}

	switch {
	case strings.HasSuffix(r.URL.Path, "/files"):
		f.serveDrive(w, r)
	case strings.HasPrefix(r.URL.Path, "/v4/spreadsheets"):
		if f.sheetsErr != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.sheetsErr.code)
			_, _ = io.WriteString(w, f.sheetsErr.body)
			return
		}
		f.serveSheets(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeGoogle) serveDrive(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet:
		f.lastQuery = r.URL.Query().Get("q")
		list := &drive.FileList{}
		for _, folder := range f.folders {
			if strings.Contains(f.lastQuery, "name = '"+escapeQuery(folder.Name)+"'") {
				list.Files = append(list.Files, folder)
				break
			}
		}
		writeJSON(w, list)

	case r.URL.Query().Get("uploadType") != "":
		upload, err := readMultipartUpload(r)
		if err != nil {
			writeGoogleError(w, http.StatusBadRequest, err.Error(), "badRequest")
			return
		}
		f.uploads = append(f.uploads, upload)
		id := fmt.Sprintf("file-%d", len(f.uploads))
		writeJSON(w, &drive.File{
			Id:          id,
			WebViewLink: "https://drive.google.com/file/d/" + id + "/view",
		})

	default:
		var folder drive.File
		if err := json.NewDecoder(r.Body).Decode(&folder); err != nil {
			writeGoogleError(w, http.StatusBadRequest, err.Error(), "badRequest")
			return
		}
		folder.Id = fmt.Sprintf("folder-%d", len(f.folders)+1)
		f.folders = append(f.folders, &folder)
		writeJSON(w, &drive.File{Id: folder.Id})
	}
}

func readMultipartUpload(r *http.Request) (fakeUpload, error) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return fakeUpload{}, err
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return fakeUpload{}, fmt.Errorf("unexpected content type %s", mediaType)
	}

	mr := multipart.NewReader(r.Body, params["boundary"])
	metaPart, err := mr.NextPart()
	if err != nil {
		return fakeUpload{}, err
	}
	var upload fakeUpload
	if err := json.NewDecoder(metaPart).Decode(&upload.Meta); err != nil {
		return fakeUpload{}, err
	}

	dataPart, err := mr.NextPart()
	if err != nil {
		return fakeUpload{}, err
	}
	upload.ContentType = dataPart.Header.Get("Content-Type")
	upload.Data, err = io.ReadAll(dataPart)
	return upload, err
}

func (f *fakeGoogle) serveSheets(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets"), "/")

	if rest == "" && r.Method == http.MethodPost {
		f.createSpreadsheet(w, r)
		return
	}

	id, sub, _ := strings.Cut(rest, "/")
	id, action, _ := strings.Cut(id, ":")
	if id != testSpreadsheetID && id != "created-1" {
		writeGoogleError(w, http.StatusNotFound, "Requested entity was not found.", "notFound")
		return
	}

	switch {
	case sub == "" && action == "batchUpdate":
		f.batchUpdate(w, r)
	case sub == "" && r.Method == http.MethodGet:
		ss := &sheets.Spreadsheet{SpreadsheetId: id}
		for _, tab := range f.tabs {
			ss.Sheets = append(ss.Sheets, &sheets.Sheet{Properties: tab})
		}
		writeJSON(w, ss)
	case strings.HasPrefix(sub, "values/"):
		f.serveValues(w, r, strings.TrimPrefix(sub, "values/"))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeGoogle) createSpreadsheet(w http.ResponseWriter, r *http.Request) {
	var req sheets.Spreadsheet
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGoogleError(w, http.StatusBadRequest, err.Error(), "badRequest")
		return
	}
	f.tabs = nil
	for _, sh := range req.Sheets {
		f.tabs = append(f.tabs, &sheets.SheetProperties{
			SheetId: f.nextSheetID,
			Title:   sh.Properties.Title,
			Index:   int64(len(f.tabs)),
		})
		f.nextSheetID++
	}

	resp := &sheets.Spreadsheet{
		SpreadsheetId:  "created-1",
		SpreadsheetUrl: "https://docs.google.com/spreadsheets/d/created-1/edit",
		Properties:     req.Properties,
	}
	for _, tab := range f.tabs {
		resp.Sheets = append(resp.Sheets, &sheets.Sheet{Properties: tab})
	}
	writeJSON(w, resp)
}

func (f *fakeGoogle) batchUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeGoogleError(w, http.StatusBadRequest, err.Error(), "badRequest")
		return
	}

	var raw map[string]any
	_ = json.Unmarshal(body, &raw)
	f.batches = append(f.batches, raw)

	var req sheets.BatchUpdateSpreadsheetRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeGoogleError(w, http.StatusBadRequest, err.Error(), "badRequest")
		return
	}

	resp := &sheets.BatchUpdateSpreadsheetResponse{}
	for _, item := range req.Requests {
		reply := &sheets.Response{}
		if item.AddSheet != nil {
			props := &sheets.SheetProperties{
				SheetId: f.nextSheetID,
				Title:   item.AddSheet.Properties.Title,
			}
			f.nextSheetID++
			index := min(int(item.AddSheet.Properties.Index), len(f.tabs))
			f.tabs = slices.Insert(f.tabs, index, props)
			for i, tab := range f.tabs {
				tab.Index = int64(i)
			}
			reply.AddSheet = &sheets.AddSheetResponse{Properties: props}
		}
		resp.Replies = append(resp.Replies, reply)
	}
	writeJSON(w, resp)
}

func (f *fakeGoogle) serveValues(w http.ResponseWriter, r *http.Request, rng string) {
	rng, isAppend := strings.CutSuffix(rng, ":append")
	tab := unquoteTab(rng)

	switch {
	case isAppend:
		var vr sheets.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
			writeGoogleError(w, http.StatusBadRequest, err.Error(), "badRequest")
			return
		}
		f.appends = append(f.appends, fakeAppend{
			Range:            rng,
			ValueInputOption: r.URL.Query().Get("valueInputOption"),
			InsertDataOption: r.URL.Query().Get("insertDataOption"),
			Values:           vr.Values,
		})
		f.tabValues[tab] = append(f.tabValues[tab], vr.Values...)
		writeJSON(w, &sheets.AppendValuesResponse{SpreadsheetId: testSpreadsheetID})

	case r.Method == http.MethodPut:
		var vr sheets.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
			writeGoogleError(w, http.StatusBadRequest, err.Error(), "badRequest")
			return
		}
		f.updates[rng] = vr.Values
		if len(f.tabValues[tab]) == 0 {
			f.tabValues[tab] = vr.Values
		} else {
			f.tabValues[tab][0] = vr.Values[0]
		}
		writeJSON(w, &sheets.UpdateValuesResponse{UpdatedRange: rng})

	default:
		f.readQuery[tab] = r.URL.RawQuery
		writeJSON(w, &sheets.ValueRange{Range: rng, Values: f.tabValues[tab]})
	}
}

func unquoteTab(rng string) string {
	tab, _, _ := strings.Cut(rng, "!")
	if strings.HasPrefix(tab, "'") && strings.HasSuffix(tab, "'") && len(tab) >= 2 {
		tab = strings.ReplaceAll(tab[1:len(tab)-1], "''", "'")
	}
	return tab
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeGoogleError(w http.ResponseWriter, code int, message, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"errors":  []map[string]string{{"reason": reason, "message": message}},
		},
	})
}

// fakeRefresher hands out a fixed token.
type fakeRefresher struct {
	mu     sync.Mutex
	calls  int
	stale  []string
	result RefreshResult
}

func (r *fakeRefresher) Refresh(_ context.Context, _ uuid.UUID, staleToken string) RefreshResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.stale = append(r.stale, staleToken)
	if !r.result.Refreshed {
		return RefreshResult{AccessToken: staleToken, Reason: r.result.Reason}
	}
	return r.result
}

func (r *fakeRefresher) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeLocker struct {
	mu   sync.Mutex
	keys []string
}

func (l *fakeLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	return fn(ctx)
}

type fakeFetcher struct {
	mu          sync.Mutex
	calls       int
	data        []byte
	contentType string
	err         error
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.data, f.contentType, f.err
}

func requireNoRequests(t *testing.T, f *fakeGoogle) {
	t.Helper()
	require.Empty(t, f.requestLog())
}
