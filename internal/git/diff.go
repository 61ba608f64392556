package git

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	diff "github.com/go-git/go-git/v5/plumbing/format/diff"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// TreeDiff renders the change from parent's tree to commit's tree as a
// git-style unified diff. File order is by path, so the output is stable for
// identical trees. An empty result means the trees are equal.
func (r *Repo) TreeDiff(ctx context.Context, parent, commit *Commit) ([]byte, error) {
	toTree, err := r.treeOf(commit)
	if err != nil {
		return nil, err
	}
	var fromTree *object.Tree
	if parent != nil {
		fromTree, err = r.treeOf(parent)
		if err != nil {
			return nil, err
		}
	}
	changes, err := object.DiffTreeContext(ctx, fromTree, toTree)
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}
	if len(changes) == 0 {
		return nil, nil
	}
	sort.Sort(changes)
	patch, err := changes.PatchContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("build patch: %w", err)
	}
	return encodeUnifiedPatch(patch.FilePatches())
}

func (r *Repo) treeOf(c *Commit) (*object.Tree, error) {
	obj := c.obj
	if obj == nil {
		var err error
		obj, err = r.Resolve(c.Hash)
		if err != nil {
			return nil, fmt.Errorf("read commit %s: %w", c.Hash, err)
		}
	}
	tree, err := obj.Tree()
	if err != nil {
		return nil, fmt.Errorf("read tree of %s: %w", c.Hash, err)
	}
	return tree, nil
}

func encodeUnifiedPatch(filePatches []diff.FilePatch) ([]byte, error) {
	var buf bytes.Buffer
	enc := diff.NewUnifiedEncoder(&buf, diff.DefaultContextLines)
	if err := enc.Encode(filePatchSet{patches: filePatches}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type filePatchSet struct {
	patches []diff.FilePatch
}

func (f filePatchSet) FilePatches() []diff.FilePatch { return f.patches }
func (filePatchSet) Message() string                 { return "" }
