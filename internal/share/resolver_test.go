package share

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/quark-mirror/internal/quark"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLister serves an in-memory tree. Totals are reported unless
// hideTotal is set.
type fakeLister struct {
	children  map[string][]quark.Item
	hideTotal bool
	tokenErr  error
	listErr   error
	calls     []string // "parent:page"
}

func (f *fakeLister) ShareToken(_ context.Context, shareURL string) (*quark.ShareContext, error) {
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}

	code, pass, err := quark.ParseShareURL(shareURL)
	if err != nil {
		return nil, err
	}

	return &quark.ShareContext{ShareCode: code, Passcode: pass, SessionToken: "T1"}, nil
}

func (f *fakeLister) ListSharePage(_ context.Context, _ *quark.ShareContext, parentID string, page, size int) (quark.Page, error) {
	f.calls = append(f.calls, parentID+":"+strconv.Itoa(page))

	if f.listErr != nil {
		return quark.Page{}, f.listErr
	}

	all := f.children[parentID]
	start := (page - 1) * size
	end := min(start+size, len(all))

	p := quark.Page{}
	if start < len(all) {
		p.Items = append(p.Items, all[start:end]...)
	}

	if !f.hideTotal {
		p.Total, p.HasTotal = len(all), true
	}

	return p, nil
}

func TestResolve_ExampleScenario(t *testing.T) {
	var tokenBody, listQueries []string

	mux := http.NewServeMux()
	mux.HandleFunc("/1/clouddrive/share/sharepage/token", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		tokenBody = append(tokenBody, string(b))
		_, _ = w.Write([]byte(`{"status":200,"data":{"stoken":"T1"}}`))
	})
	mux.HandleFunc("/1/clouddrive/share/sharepage/detail", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		listQueries = append(listQueries, q.Get("pdir_fid")+":"+q.Get("_page")+":"+q.Get("_size")+":"+q.Get("stoken"))

		switch q.Get("pdir_fid") {
		case "0":
			_, _ = w.Write([]byte(`{"status":200,"data":{"list":[{"fid":"f1","file_name":"Movie","dir":true,"file_type":0}],"_total":1}}`))
		case "f1":
			_, _ = w.Write([]byte(`{"status":200,"data":{"list":[{"fid":"f2","file_name":"movie.mkv","file_type":1,"size":2147483648,"share_fid_token":"st2"}]}}`))
		default:
			t.Errorf("unexpected parent %q", q.Get("pdir_fid"))
		}
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := quark.NewClient(quark.Options{BaseURL: srv.URL, ShareBaseURL: srv.URL}, srv.Client(), cookie("c"), testLogger())
	nodes, err := NewResolver(client, 200, testLogger()).Resolve(context.Background(), "https://example.test/s/abc123?pwd=9f2a")
	require.NoError(t, err)

	require.Len(t, tokenBody, 1)
	assert.JSONEq(t, `{"pwd_id":"abc123","passcode":"9f2a"}`, tokenBody[0])
	assert.Equal(t, []string{"0:1:200:T1", "f1:1:200:T1"}, listQueries)

	require.Len(t, nodes, 2)
	assert.Equal(t, FileNode{RemoteID: "f1", Name: "Movie", IsDirectory: true, ParentRemoteID: "0", LogicalPath: "/Movie"}, nodes[0])
	assert.Equal(t, "f2", nodes[1].RemoteID)
	assert.Equal(t, "/Movie/movie.mkv", nodes[1].LogicalPath)
	assert.False(t, nodes[1].IsDirectory)
	assert.Equal(t, int64(2147483648), nodes[1].Size)
	assert.Equal(t, "f1", nodes[1].ParentRemoteID)
	assert.Equal(t, "st2", nodes[1].SaveToken)
}

type cookie string

func (c cookie) Cookie() (string, error) { return string(c), nil }

// buildTree creates a depth-3 tree: root holds 5 dirs and 3 files; each
// dir holds 4 subdirs and 7 files; each subdir holds 6 files.
func buildTree() (*fakeLister, map[string]string) {
	f := &fakeLister{children: make(map[string][]quark.Item)}
	want := make(map[string]string) // id -> path

	add := func(parent, parentPath, id, name string, dir bool) string {
		p := parentPath + "/" + name
		if parentPath == "/" {
			p = "/" + name
		}

		f.children[parent] = append(f.children[parent], quark.Item{ID: id, Name: name, IsDir: dir})
		want[id] = p

		return p
	}

	for d := range 5 {
		dID := fmt.Sprintf("d%d", d)
		dPath := add(quark.RootID, "/", dID, fmt.Sprintf("dir%d", d), true)

		for s := range 4 {
			sID := fmt.Sprintf("%s.s%d", dID, s)
			sPath := add(dID, dPath, sID, fmt.Sprintf("sub%d", s), true)

			for k := range 6 {
				add(sID, sPath, fmt.Sprintf("%s.f%d", sID, k), fmt.Sprintf("leaf%d.mkv", k), false)
			}
		}

		for k := range 7 {
			add(dID, dPath, fmt.Sprintf("%s.f%d", dID, k), fmt.Sprintf("file%d.txt", k), false)
		}
	}

	for k := range 3 {
		add(quark.RootID, "/", fmt.Sprintf("r%d", k), fmt.Sprintf("root%d.mp4", k), false)
	}

	return f, want
}

func TestResolve_TraversalCompletenessAcrossPages(t *testing.T) {
	for _, hideTotal := range []bool{false, true} {
		t.Run("hideTotal="+strconv.FormatBool(hideTotal), func(t *testing.T) {
			lister, want := buildTree()
			lister.hideTotal = hideTotal

			nodes, err := NewResolver(lister, 3, testLogger()).Resolve(context.Background(), "abc")
			require.NoError(t, err)

			got := make(map[string]string, len(nodes))
			for _, n := range nodes {
				_, dup := got[n.RemoteID]
				require.False(t, dup, "node %s emitted twice", n.RemoteID)
				got[n.RemoteID] = n.LogicalPath
			}

			assert.Equal(t, want, got)
		})
	}
}

func TestResolve_ShortPageTerminatesWithoutTotal(t *testing.T) {
	lister := &fakeLister{hideTotal: true, children: map[string][]quark.Item{
		quark.RootID: {{ID: "a", Name: "a"}, {ID: "b", Name: "b"}, {ID: "c", Name: "c"}},
	}}

	nodes, err := NewResolver(lister, 2, testLogger()).Resolve(context.Background(), "abc")
	require.NoError(t, err)
	assert.Len(t, nodes, 3)
	assert.Equal(t, []string{"0:1", "0:2"}, lister.calls)
}

func TestResolve_EmptyShare(t *testing.T) {
	lister := &fakeLister{children: map[string][]quark.Item{}}

	nodes, err := NewResolver(lister, 10, testLogger()).Resolve(context.Background(), "abc")
	require.NoError(t, err)
	assert.Empty(t, nodes)
	assert.Equal(t, []string{"0:1"}, lister.calls)
}

func TestResolve_AuthFailsFast(t *testing.T) {
	lister := &fakeLister{tokenErr: &quark.Error{Op: "exchange share token", Message: "bad passcode", Err: quark.ErrAuth}}

	_, err := NewResolver(lister, 10, testLogger()).Resolve(context.Background(), "abc")
	require.Error(t, err)
	assert.ErrorIs(t, err, quark.ErrAuth)
	assert.Empty(t, lister.calls)
}

func TestResolve_ListingErrorPropagates(t *testing.T) {
	lister := &fakeLister{listErr: &quark.Error{Op: "list share page", Message: "reset", Err: quark.ErrNetwork}}

	_, err := NewResolver(lister, 10, testLogger()).Resolve(context.Background(), "abc")
	assert.ErrorIs(t, err, quark.ErrNetwork)
}

func TestResolve_NeverRevisitsNodes(t *testing.T) {
	// d1 lists itself and the root's file again; both must be ignored.
	lister := &fakeLister{children: map[string][]quark.Item{
		quark.RootID: {{ID: "d1", Name: "loop", IsDir: true}, {ID: "x", Name: "x.mkv"}},
		"d1":         {{ID: "d1", Name: "loop", IsDir: true}, {ID: "x", Name: "x.mkv"}, {ID: "y", Name: "y.mkv"}},
	}}

	nodes, err := NewResolver(lister, 10, testLogger()).Resolve(context.Background(), "abc")
	require.NoError(t, err)

	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.RemoteID)
	}

	sort.Strings(ids)
	assert.Equal(t, []string{"d1", "x", "y"}, ids)
}

func TestResolve_StopsWhenPagesRepeat(t *testing.T) {
	// Without a total, a remote that ignores _page would loop forever.
	lister := &repeatingLister{}

	nodes, err := NewResolver(lister, 2, testLogger()).Resolve(context.Background(), "abc")
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
	assert.Equal(t, 2, lister.calls)
}

type repeatingLister struct{ calls int }

func (r *repeatingLister) ShareToken(context.Context, string) (*quark.ShareContext, error) {
	return &quark.ShareContext{ShareCode: "abc"}, nil
}

func (r *repeatingLister) ListSharePage(context.Context, *quark.ShareContext, string, int, int) (quark.Page, error) {
	r.calls++
	return quark.Page{Items: []quark.Item{{ID: "a", Name: "a"}, {ID: "b", Name: "b"}}}, nil
}

func TestResolve_NormalizesNamesToNFC(t *testing.T) {
	decomposed := "Ame\u0301lie.mkv"
	lister := &fakeLister{children: map[string][]quark.Item{
		quark.RootID: {{ID: "a", Name: decomposed}},
	}}

	nodes, err := NewResolver(lister, 10, testLogger()).Resolve(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "/Am\u00e9lie.mkv", nodes[0].LogicalPath)
}

func TestNewResolver_ClampsPageSize(t *testing.T) {
	assert.Equal(t, DefaultPageSize, NewResolver(&fakeLister{}, 0, nil).pageSize)
	assert.Equal(t, quark.MaxPageSize, NewResolver(&fakeLister{}, 5000, nil).pageSize)
	assert.Equal(t, 7, NewResolver(&fakeLister{}, 7, nil).pageSize)
}

func TestResolve_InvalidShareURL(t *testing.T) {
	_, err := NewResolver(&fakeLister{}, 10, testLogger()).Resolve(context.Background(), "https://pan.quark.cn/nothing")
	assert.True(t, errors.Is(err, quark.ErrInvalidShareURL))
}
