package esgf

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// ErrNoDatasets is returned when a search matches nothing.
var ErrNoDatasets = errors.New("no datasets found")

// Client is an ESGF search and download client.
type Client struct {
	logger    *slog.Logger
	httpCli   *http.Client
	searchURL string
	limiter   *rate.Limiter
	pageSize  int
}

// DefaultSearchURL is the ESGF index node queried when none is configured.
const DefaultSearchURL = "https://esgf-node.llnl.gov/esg-search/search"

// NewClient creates a new ESGF client. Search requests are limited to
// searchesPerSec; maxConns bounds concurrent connections per host.
func NewClient(logger *slog.Logger, searchURL string, maxConns int, searchesPerSec float64) (*Client, error) {
	u, err := url.Parse(searchURL)
	if err != nil {
		return nil, errors.Wrapf(err, "search URL %q", searchURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("search URL %q: unsupported scheme %q", searchURL, u.Scheme)
	}
	if maxConns <= 0 {
		maxConns = 4
	}
	limit := rate.Inf
	if searchesPerSec > 0 {
		limit = rate.Limit(searchesPerSec)
	}

	return &Client{
		logger: logger,
		httpCli: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        maxConns,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: maxConns,
				MaxConnsPerHost:     maxConns,
			},
		},
		searchURL: u.String(),
		limiter:   rate.NewLimiter(limit, 1),
		pageSize:  100,
	}, nil
}

// Query selects CMIP6 datasets by their facets. Empty facets are not
// constrained.
type Query struct {
	Project    string
	Activity   string
	Source     string
	Experiment string
	Variable   string
	Table      string
	Grid       string
	Member     string
}

func (q Query) String() string {
	return strings.Join([]string{q.Project, q.Activity, q.Source, q.Experiment, q.Member, q.Table, q.Variable, q.Grid}, ".")
}

func (q Query) values(docType string) url.Values {
	v := url.Values{}
	for name, value := range map[string]string{
		"project":       q.Project,
		"activity_id":   q.Activity,
		"source_id":     q.Source,
		"experiment_id": q.Experiment,
		"variable_id":   q.Variable,
		"table_id":      q.Table,
		"grid_label":    q.Grid,
		"member_id":     q.Member,
	} {
		if value != "" {
			v.Set(name, value)
		}
	}
	v.Set("type", docType)
	v.Set("latest", "true")
	v.Set("replica", "false")
	v.Set("format", "application/solr+json")
	return v
}

// Dataset is a search hit of type Dataset.
type Dataset struct {
	ID            string      `json:"id"`
	InstanceID    string      `json:"instance_id"`
	MasterID      string      `json:"master_id"`
	Version       json.Number `json:"version"`
	DataNode      string      `json:"data_node"`
	NumberOfFiles int         `json:"number_of_files"`
}

// File is a search hit of type File.
type File struct {
	Filename     string
	DatasetID    string
	Size         int64
	Checksum     string
	ChecksumType string
	URL          string
}

type fileDoc struct {
	Title        string      `json:"title"`
	DatasetID    string      `json:"dataset_id"`
	Size         json.Number `json:"size"`
	Checksum     []string    `json:"checksum"`
	ChecksumType []string    `json:"checksum_type"`
	URL          []string    `json:"url"`
}

type searchResponse[T any] struct {
	Response struct {
		NumFound int `json:"numFound"`
		Docs     []T `json:"docs"`
	} `json:"response"`
}

// Datasets returns the datasets matching q.
func (c *Client) Datasets(ctx context.Context, q Query) ([]Dataset, error) {
	ds, err := searchAll[Dataset](ctx, c, q, "Dataset")
	if err != nil {
		return nil, err
	}
	c.logger.Info("datasets found", "query", q.String(), "count", len(ds))
	for _, d := range ds {
		c.logger.Debug("dataset", "id", d.ID, "files", d.NumberOfFiles)
	}
	return ds, nil
}

// Files returns the files of every dataset matching q.
func (c *Client) Files(ctx context.Context, q Query) ([]File, error) {
	docs, err := searchAll[fileDoc](ctx, c, q, "File")
	if err != nil {
		return nil, err
	}
	files := make([]File, 0, len(docs))
	for _, d := range docs {
		f, err := d.file()
		if err != nil {
			c.logger.Warn("skipping file", "title", d.Title, "err", err)
			continue
		}
		files = append(files, f)
	}
	c.logger.Info("files found", "query", q.String(), "count", len(files))
	return files, nil
}

func (d fileDoc) file() (File, error) {
	f := File{Filename: d.Title, DatasetID: d.DatasetID}
	if f.Filename == "" || f.DatasetID == "" {
		return f, errors.New("missing title or dataset_id")
	}
	if d.Size != "" {
		n, err := strconv.ParseInt(string(d.Size), 10, 64)
		if err != nil {
			return f, errors.Wrap(err, "size")
		}
		f.Size = n
	}
	if len(d.Checksum) > 0 {
		f.Checksum = strings.ToLower(d.Checksum[0])
	}
	if len(d.ChecksumType) > 0 {
		f.ChecksumType = strings.ToUpper(d.ChecksumType[0])
	}
	// Entries are "<url>|<mime type>|<service>".
	for _, u := range d.URL {
		parts := strings.Split(u, "|")
		if len(parts) == 3 && parts[2] == "HTTPServer" {
			f.URL = parts[0]
			break
		}
	}
	if f.URL == "" {
		return f, errors.New("no HTTPServer URL")
	}
	return f, nil
}

func searchAll[T any](ctx context.Context, c *Client, q Query, docType string) ([]T, error) {
	var all []T
	for offset := 0; ; {
		page, err := search[T](ctx, c, q, docType, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Response.Docs...)
		offset += len(page.Response.Docs)
		if len(page.Response.Docs) == 0 || offset >= page.Response.NumFound {
			return all, nil
		}
	}
}

func search[T any](ctx context.Context, c *Client, q Query, docType string, offset int) (*searchResponse[T], error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	params := q.values(docType)
	params.Set("offset", strconv.Itoa(offset))
	params.Set("limit", strconv.Itoa(c.pageSize))
	u := c.searchURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.httpCli.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "searching %s", docType)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, errors.Errorf("searching %s: unexpected status %d: %s", docType, res.StatusCode, strings.TrimSpace(string(body)))
	}
	var sr searchResponse[T]
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, errors.Wrapf(err, "decoding %s search response", docType)
	}
	c.logger.Debug("search page", "type", docType, "offset", offset, "docs", len(sr.Response.Docs), "numFound", sr.Response.NumFound)
	return &sr, nil
}

// LocalPath returns where f is stored below root: the dataset identifier with
// dots turned into directories, then the file name. For CMIP6 this is
// CMIP6/<activity>/<institution>/<source>/<experiment>/<member>/<table>/<variable>/<grid>/v<version>/<file>.
func (f File) LocalPath(root string) string {
	id, _, _ := strings.Cut(f.DatasetID, "|")
	parts := append([]string{root}, strings.Split(id, ".")...)
	return filepath.Join(append(parts, f.Filename)...)
}

// TempName is the name of f's in-progress download.
func (f File) TempName() string {
	if f.Checksum != "" {
		return f.Checksum + ".part"
	}
	return fmt.Sprintf("%s.part", f.Filename)
}
