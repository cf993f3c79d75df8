package esgf

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/pkg/errors"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

const datasetID = "CMIP6.GeoMIP.NCAR.CESM2-WACCM.G6sulfur.r1i1p1f2.Amon.tas.gn.v20190920|esgf-data.ucar.edu"

func sha(b []byte) string {
	s := sha256.Sum256(b)
	return hex.EncodeToString(s[:])
}

// newIndex serves a paginated search over docs plus the file payloads.
func newIndex(t *testing.T, payloads map[string][]byte, corrupt map[string]bool) (*httptest.Server, *[]string) {
	t.Helper()
	var queries []string
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		q := r.URL.Query()
		if q.Get("format") != "application/solr+json" || q.Get("latest") != "true" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		var docs []map[string]any
		switch q.Get("type") {
		case "Dataset":
			docs = append(docs, map[string]any{"id": datasetID, "version": "20190920", "number_of_files": len(payloads)})
		case "File":
			for _, name := range []string{
				"tas_Amon_CESM2-WACCM_G6sulfur_r1i1p1f2_gn_202001-202912.nc",
				"tas_Amon_CESM2-WACCM_G6sulfur_r1i1p1f2_gn_203001-203912.nc",
				"tas_Amon_CESM2-WACCM_G6sulfur_r1i1p1f2_gn_204001-204912.nc",
			} {
				b := payloads[name]
				docs = append(docs, map[string]any{
					"title":         name,
					"dataset_id":    datasetID,
					"size":          len(b),
					"checksum":      []string{sha(b)},
					"checksum_type": []string{"SHA256"},
					"url": []string{
						srv.URL + "/dodsC/" + name + "|application/opendap-html|OPENDAP",
						srv.URL + "/files/" + name + "|application/netcdf|HTTPServer",
					},
				})
			}
		}
		offset, _ := strconv.Atoi(q.Get("offset"))
		limit, _ := strconv.Atoi(q.Get("limit"))
		end := min(offset+limit, len(docs))
		var resp struct {
			Response struct {
				NumFound int              `json:"numFound"`
				Docs     []map[string]any `json:"docs"`
			} `json:"response"`
		}
		resp.Response.NumFound = len(docs)
		resp.Response.Docs = docs[min(offset, end):end]
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Base(r.URL.Path)
		b, ok := payloads[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if corrupt[name] {
			b = append([]byte("x"), b[1:]...)
		}
		w.Write(b)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &queries
}

func payloads() map[string][]byte {
	return map[string][]byte{
		"tas_Amon_CESM2-WACCM_G6sulfur_r1i1p1f2_gn_202001-202912.nc": []byte("CDF\x01 first decade"),
		"tas_Amon_CESM2-WACCM_G6sulfur_r1i1p1f2_gn_203001-203912.nc": []byte("CDF\x01 second decade"),
		"tas_Amon_CESM2-WACCM_G6sulfur_r1i1p1f2_gn_204001-204912.nc": []byte("CDF\x01 third decade"),
	}
}

func testQuery() Query {
	return Query{Project: "CMIP6", Activity: "GeoMIP", Source: "CESM2-WACCM", Experiment: "G6sulfur", Variable: "tas", Table: "Amon", Member: "r1i1p1f2", Grid: "gn"}
}

func TestFilesPaginated(t *testing.T) {
	srv, queries := newIndex(t, payloads(), nil)
	c, err := NewClient(discard, srv.URL+"/search", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	c.pageSize = 2

	files, err := c.Files(context.Background(), testQuery())
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 {
		t.Fatalf("got %d files, want 3", len(files))
	}
	if len(*queries) != 2 {
		t.Errorf("%d search requests, want 2 pages", len(*queries))
	}
	f := files[0]
	if f.URL != srv.URL+"/files/"+f.Filename {
		t.Errorf("URL = %q, want the HTTPServer endpoint", f.URL)
	}
	if f.ChecksumType != "SHA256" || len(f.Checksum) != 64 || f.Size == 0 {
		t.Errorf("file = %+v", f)
	}

	ds, err := c.Datasets(context.Background(), testQuery())
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 1 || ds[0].Version.String() != "20190920" {
		t.Errorf("datasets = %+v", ds)
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient(discard, "ftp://example.org/search", 1, 0); err == nil {
		t.Error("NewClient accepted an ftp URL")
	}
}

func TestLocalPath(t *testing.T) {
	f := File{Filename: "tas_x.nc", DatasetID: datasetID}
	want := filepath.Join("data", "CMIP6", "GeoMIP", "NCAR", "CESM2-WACCM", "G6sulfur", "r1i1p1f2", "Amon", "tas", "gn", "v20190920", "tas_x.nc")
	if got := f.LocalPath("data"); got != want {
		t.Errorf("LocalPath = %q, want %q", got, want)
	}
}

func TestDownload(t *testing.T) {
	p := payloads()
	srv, _ := newIndex(t, p, nil)
	c, err := NewClient(discard, srv.URL+"/search", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	files, err := c.Files(context.Background(), testQuery())
	if err != nil {
		t.Fatal(err)
	}
	root, tmp := t.TempDir(), t.TempDir()

	stats, err := c.Download(context.Background(), files, root, tmp, 2)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Fetched != 3 || stats.Skipped != 0 {
		t.Errorf("stats = %+v", stats)
	}
	for _, f := range files {
		b, err := os.ReadFile(f.LocalPath(root))
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != string(p[f.Filename]) {
			t.Errorf("%s content = %q", f.Filename, b)
		}
	}
	if left, _ := os.ReadDir(tmp); len(left) != 0 {
		t.Errorf("temp dir not empty: %v", left)
	}
	if m := Missing(root, files); len(m) != 0 {
		t.Errorf("missing after download: %v", m)
	}

	stats, err = c.Download(context.Background(), files, root, tmp, 2)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Fetched != 0 || stats.Skipped != 3 {
		t.Errorf("second run stats = %+v, want everything skipped", stats)
	}
}

func TestDownloadChecksumMismatch(t *testing.T) {
	p := payloads()
	bad := "tas_Amon_CESM2-WACCM_G6sulfur_r1i1p1f2_gn_203001-203912.nc"
	srv, _ := newIndex(t, p, map[string]bool{bad: true})
	c, err := NewClient(discard, srv.URL+"/search", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	files, err := c.Files(context.Background(), testQuery())
	if err != nil {
		t.Fatal(err)
	}
	root, tmp := t.TempDir(), t.TempDir()
	_, err = c.Download(context.Background(), files, root, tmp, 1)
	if !errors.Is(err, ErrChecksum) {
		t.Fatalf("Download error = %v, want ErrChecksum", err)
	}
	for _, f := range files {
		if f.Filename == bad {
			if _, err := os.Stat(f.LocalPath(root)); !os.IsNotExist(err) {
				t.Errorf("corrupt file was moved into place")
			}
		}
	}
}

func TestCleanStale(t *testing.T) {
	tmp := t.TempDir()
	files := []File{{Filename: "a.nc", Checksum: "aaaa"}, {Filename: "b.nc", Checksum: "bbbb"}}
	for _, name := range []string{"aaaa.part", "aaaa.done", "bbbb.part", "unrelated.part"} {
		if err := os.WriteFile(filepath.Join(tmp, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	n, err := CleanStale(tmp, files)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("removed %d, want 3", n)
	}
	if _, err := os.Stat(filepath.Join(tmp, "unrelated.part")); err != nil {
		t.Error("unrelated temp file was removed")
	}
}
