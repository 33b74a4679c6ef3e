package ledger

import (
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// imagePattern matches image artifacts in the job directory and one level of
// subdirectories, e.g. "{*,*/*}.{png,PNG,jpg,JPG}".
func imagePattern(exts []string) string {
	alts := make([]string, 0, 2*len(exts))
	for _, ext := range exts {
		alts = append(alts, ext)
		if upper := strings.ToUpper(ext); upper != ext {
			alts = append(alts, upper)
		}
	}
	return "{*,*/*}.{" + strings.Join(alts, ",") + "}"
}

// findImages returns image artifacts under dir, oldest first by mtime.
// Entries that vanish while being inspected are skipped.
func findImages(dir string, exts []string) []Artifact {
	if len(exts) == 0 {
		return nil
	}
	fsys := os.DirFS(dir)
	matches, err := doublestar.Glob(fsys, imagePattern(exts))
	if err != nil {
		return nil
	}

	out := make([]Artifact, 0, len(matches))
	for _, m := range matches {
		if strings.HasPrefix(m, ".") {
			continue
		}
		st, err := fs.Stat(fsys, m)
		if err != nil || st.IsDir() {
			continue
		}
		out = append(out, Artifact{Path: m, Size: st.Size(), ModTime: st.ModTime()})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].Path < out[j].Path
		}
		return out[i].ModTime.Before(out[j].ModTime)
	})
	return out
}

func latestImage(dir string, exts []string) *Artifact {
	images := findImages(dir, exts)
	if len(images) == 0 {
		return nil
	}
	latest := images[len(images)-1]
	return &latest
}

// groupImages buckets images by the filename part before the last underscore.
// Images without an underscore land in "misc". Each group keeps the last
// imagesPerGroup images by name, and groups are sorted by name.
func groupImages(images []Artifact) []ImageGroup {
	byName := make(map[string][]Artifact)
	for _, img := range images {
		base := strings.TrimSuffix(img.Path, path.Ext(img.Path))
		name := "misc"
		if i := strings.LastIndex(base, "_"); i > 0 {
			name = base[:i]
		}
		byName[name] = append(byName[name], img)
	}

	groups := make([]ImageGroup, 0, len(byName))
	for name, imgs := range byName {
		sort.Slice(imgs, func(i, j int) bool { return imgs[i].Path < imgs[j].Path })
		if len(imgs) > imagesPerGroup {
			imgs = imgs[len(imgs)-imagesPerGroup:]
		}
		groups = append(groups, ImageGroup{Name: name, Images: imgs, Latest: imgs[len(imgs)-1]})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups
}

func listFiles(dir string) ([]FileEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]FileEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileEntry{
			Name:    e.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   e.IsDir(),
		})
	}
	return out, nil
}
