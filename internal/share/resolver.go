// Package share resolves share links into flat file trees and decides which
// resolved files are worth mirroring.
package share

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/quark-mirror/internal/quark"
)

// DefaultPageSize is the listing page size used when none is configured.
const DefaultPageSize = quark.MaxPageSize

// Lister is the slice of the remote gateway the resolver needs.
type Lister interface {
	ShareToken(ctx context.Context, shareURL string) (*quark.ShareContext, error)
	ListSharePage(ctx context.Context, sc *quark.ShareContext, parentID string, page, size int) (quark.Page, error)
}

// FileNode is one file or folder reachable from a share root.
type FileNode struct {
	RemoteID       string `json:"fid"`
	Name           string `json:"name"`
	IsDirectory    bool   `json:"is_dir"`
	ParentRemoteID string `json:"parent_fid"`
	LogicalPath    string `json:"path"`
	Size           int64  `json:"size"`
	FileType       int    `json:"file_type"`
	SaveToken      string `json:"share_fid_token,omitempty"`
}

// Resolver walks a share's tree depth-first with an explicit stack.
type Resolver struct {
	lister   Lister
	pageSize int
	logger   *slog.Logger
}

// NewResolver creates a Resolver. pageSize is clamped to [1, quark.MaxPageSize].
func NewResolver(lister Lister, pageSize int, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	switch {
	case pageSize <= 0:
		pageSize = DefaultPageSize
	case pageSize > quark.MaxPageSize:
		pageSize = quark.MaxPageSize
	}

	return &Resolver{lister: lister, pageSize: pageSize, logger: logger}
}

// frame is a directory waiting to be expanded.
type frame struct {
	id   string
	path string
}

// Resolve exchanges the share token and returns every node reachable from
// the share root, each exactly once. Token failures are returned before any
// listing; listing failures abort the walk.
func (r *Resolver) Resolve(ctx context.Context, shareURL string) ([]FileNode, error) {
	sc, err := r.lister.ShareToken(ctx, shareURL)
	if err != nil {
		return nil, fmt.Errorf("share: obtaining share token: %w", err)
	}

	var (
		nodes []FileNode
		stack = []frame{{id: quark.RootID, path: "/"}}
		seen  = map[string]bool{quark.RootID: true}
	)

	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, err := r.listAll(ctx, sc, dir, seen)
		if err != nil {
			return nil, err
		}

		for i := range children {
			nodes = append(nodes, children[i])

			if children[i].IsDirectory && children[i].RemoteID != "" {
				stack = append(stack, frame{id: children[i].RemoteID, path: children[i].LogicalPath})
			}
		}
	}

	r.logger.Info("share resolved",
		slog.String("share_code", sc.ShareCode),
		slog.Int("nodes", len(nodes)),
	)

	return nodes, nil
}

// listAll pages through one directory and returns its unseen children.
func (r *Resolver) listAll(ctx context.Context, sc *quark.ShareContext, dir frame, seen map[string]bool) ([]FileNode, error) {
	var out []FileNode

	for page := 1; ; page++ {
		p, err := r.lister.ListSharePage(ctx, sc, dir.id, page, r.pageSize)
		if err != nil {
			return nil, fmt.Errorf("share: listing %s page %d: %w", dir.path, page, err)
		}

		fresh := 0

		for _, item := range p.Items {
			if item.ID != "" {
				if seen[item.ID] {
					continue
				}

				seen[item.ID] = true
			}

			fresh++

			out = append(out, toFileNode(item, dir))
		}

		if quark.LastPage(p, page, r.pageSize) {
			return out, nil
		}

		// A full page of repeats means the remote is cycling.
		if fresh == 0 {
			r.logger.Warn("listing returned no new items, stopping",
				slog.String("path", dir.path),
				slog.Int("page", page),
			)

			return out, nil
		}
	}
}

func toFileNode(item quark.Item, parent frame) FileNode {
	name := norm.NFC.String(item.Name)

	return FileNode{
		RemoteID:       item.ID,
		Name:           name,
		IsDirectory:    item.IsDir,
		ParentRemoteID: parent.id,
		LogicalPath:    joinPath(parent.path, name),
		Size:           item.Size,
		FileType:       item.FileType,
		SaveToken:      item.ShareFIDToken,
	}
}

func joinPath(parent, name string) string {
	return strings.TrimSuffix(parent, "/") + "/" + name
}
