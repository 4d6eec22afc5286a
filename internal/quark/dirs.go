package quark

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
)

// ListDirectoryPage returns one page of a directory in the user's own drive.
func (c *Client) ListDirectoryPage(ctx context.Context, parentID string, page, size int) (Page, error) {
	const op = "list directory"

	q := c.baseParams()
	q.Set("pdir_fid", parentID)
	q.Set("_page", strconv.Itoa(page))
	q.Set("_size", strconv.Itoa(clampPageSize(size)))
	q.Set("_fetch_total", "1")
	q.Set("_fetch_sub_dirs", "0")
	q.Set("_sort", "file_type:asc,updated_at:desc")

	env, err := c.call(ctx, requestSpec{
		op: op, method: http.MethodGet, url: c.baseURL + "/1/clouddrive/file/sort", query: q,
	})
	if err != nil {
		return Page{}, err
	}

	p, err := decodePage(env)
	if err != nil {
		return Page{}, apiError(op, http.StatusOK, 0, err.Error())
	}

	return p, nil
}

// CreateDirectory creates a folder named name under parentID and returns its
// id. Not idempotent: calling it twice creates two folders. Use
// ResolveOrCreateDirectoryPath for mkdir -p semantics.
func (c *Client) CreateDirectory(ctx context.Context, parentID, name string) (string, error) {
	const op = "create directory"

	env, err := c.call(ctx, requestSpec{
		op:     op,
		method: http.MethodPost,
		url:    c.baseURL + "/1/clouddrive/file",
		query:  c.baseParams(),
		body: map[string]any{
			"pdir_fid":      parentID,
			"file_name":     name,
			"dir_path":      "",
			"dir_init_lock": false,
		},
	})
	if err != nil {
		return "", err
	}

	var data struct {
		FID    string `json:"fid"`
		FileID string `json:"file_id"`
	}

	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return "", apiError(op, http.StatusOK, 0, "decoding created folder: "+err.Error())
		}
	}

	id := data.FID
	if id == "" {
		id = data.FileID
	}

	if id == "" {
		return "", apiError(op, http.StatusOK, 0, "create folder returned no fid")
	}

	c.logger.Info("directory created",
		slog.String("parent_id", parentID),
		slog.String("name", name),
		slog.String("id", id),
	)

	return id, nil
}

// ResolveOrCreateDirectoryPath walks p segment by segment from the drive
// root, reusing an existing child folder of each name and creating it only
// when absent. Returns the id of the final folder; "/" resolves to RootID.
func (c *Client) ResolveOrCreateDirectoryPath(ctx context.Context, p string) (string, error) {
	clean := path.Clean("/" + strings.TrimSpace(p))
	if clean == "/" {
		return RootID, nil
	}

	current := RootID

	for _, segment := range strings.Split(strings.TrimPrefix(clean, "/"), "/") {
		id, found, err := c.findChildDir(ctx, current, segment)
		if err != nil {
			return "", err
		}

		if !found {
			id, err = c.CreateDirectory(ctx, current, segment)
			if err != nil {
				return "", err
			}
		}

		current = id
	}

	c.logger.Debug("directory path resolved",
		slog.String("path", clean),
		slog.String("id", current),
	)

	return current, nil
}

// findChildDir pages through parentID looking for a folder named name. A
// full page that adds no unseen ids ends the walk with an API error so a
// cycling listing cannot pin the caller.
func (c *Client) findChildDir(ctx context.Context, parentID, name string) (string, bool, error) {
	seen := make(map[string]bool)

	for page := 1; ; page++ {
		p, err := c.ListDirectoryPage(ctx, parentID, page, MaxPageSize)
		if err != nil {
			return "", false, err
		}

		fresh := 0

		for i := range p.Items {
			item := &p.Items[i]
			if item.IsDir && item.Name == name && item.ID != "" {
				return item.ID, true, nil
			}

			if item.ID != "" && !seen[item.ID] {
				seen[item.ID] = true
				fresh++
			}
		}

		if LastPage(p, page, MaxPageSize) {
			return "", false, nil
		}

		if fresh == 0 {
			c.logger.Warn("directory listing returned no new items",
				slog.String("parent", parentID),
				slog.Int("page", page),
			)

			return "", false, apiError("list directory", http.StatusOK, 0,
				fmt.Sprintf("page %d of %s repeated earlier items", page, parentID))
		}
	}
}

// LastPage reports whether p, fetched as page number page of the given
// size, ends the listing: it is empty, the running offset reached the
// reported total, or (without a total) it is short.
func LastPage(p Page, page, size int) bool {
	if len(p.Items) == 0 {
		return true
	}

	if p.HasTotal {
		return page*size >= p.Total
	}

	return len(p.Items) < size
}
