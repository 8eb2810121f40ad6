package outputs

import (
	"path/filepath"
	"strings"
)

// Diff is the result of comparing a directory against a Snapshot.
type Diff struct {
	Created  []File
	Modified []File
}

// Candidates returns the created files, or the modified files when nothing
// was created.
func (d Diff) Candidates() []File {
	if len(d.Created) > 0 {
		return d.Created
	}
	return d.Modified
}

// Changed diffs the snapshot's directory against its current contents.
// Modified files are only collected when nothing was created.
func (s *Snapshotter) Changed(before Snapshot) (Diff, error) {
	current, _, err := list(before.Dir, s.Ignore)
	if err != nil {
		return Diff{}, err
	}
	var diff Diff
	for _, f := range current {
		if !before.Has(filepath.Base(f.Path)) {
			diff.Created = append(diff.Created, f)
		}
	}
	if len(diff.Created) > 0 {
		return diff, nil
	}
	for _, f := range current {
		if old, ok := before.Files[filepath.Base(f.Path)]; ok && f.ModTime.After(old) {
			diff.Modified = append(diff.Modified, f)
		}
	}
	return diff, nil
}

// ForwardInput is everything Forward needs to pick the next stage's inputs.
type ForwardInput struct {
	// Explicit is the output declared by the stage body.
	Explicit []string
	// Next holds inputs the body already forwarded itself.
	Next []string
	// Candidates come from Diff.Candidates.
	Candidates    []File
	Mask          []string
	DefaultOutput string
	// Inputs are the stage's declared inputs, passed through when nothing else applies.
	Inputs []string
}

// Forward selects the paths handed to the next stage:
//  1. an explicit output, unless the body already forwarded something;
//  2. otherwise the unmasked candidates: the default output if it is among
//     them, else the most recently modified one;
//  3. otherwise the stage's own inputs, unchanged.
func Forward(in ForwardInput) []string {
	if len(in.Next) > 0 {
		return in.Next
	}
	if len(in.Explicit) > 0 {
		return in.Explicit
	}

	filtered := make([]File, 0, len(in.Candidates))
	for _, f := range in.Candidates {
		if Masked(f.Path, in.Mask) {
			continue
		}
		filtered = append(filtered, f)
	}
	if len(filtered) > 0 {
		if in.DefaultOutput != "" {
			want := filepath.Clean(in.DefaultOutput)
			for _, f := range filtered {
				if filepath.Clean(f.Path) == want {
					return []string{f.Path}
				}
			}
		}
		return []string{Newest(filtered).Path}
	}

	return in.Inputs
}

// Newest returns the file with the greatest modification time. Ties keep the
// earliest entry in listing order.
func Newest(files []File) File {
	var best File
	for i, f := range files {
		if i == 0 || f.ModTime.After(best.ModTime) {
			best = f
		}
	}
	return best
}

// Masked reports whether the file name of path ends with any mask suffix.
func Masked(path string, mask []string) bool {
	name := filepath.Base(path)
	for _, suffix := range mask {
		if suffix != "" && strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// StripExtension removes the last extension from the file name of path.
func StripExtension(path string) string {
	ext := filepath.Ext(path)
	if ext == "" || ext == filepath.Base(path) {
		return path
	}
	return strings.TrimSuffix(path, ext)
}
