// Package pathscheme computes where every file belonging to a media item lives
// on disk: the original, its preview, and the full-size JPEG companion of
// formats that browsers cannot display directly.
//
// Everything here is pure. A Scheme never touches the filesystem, so the same
// input always yields the same Paths.
package pathscheme

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/photoshelf/photoshelf/pkg/config"
	"github.com/photoshelf/photoshelf/pkg/models"
	"github.com/pkg/errors"
)

const (
	SizeClassPreview  = "preview"
	SizeClassFullSize = "fullSize"

	defaultExtension = "jpg"
)

// conversionSubtypes are image subtypes that need a full-size JPEG companion.
var conversionSubtypes = map[string]struct{}{
	"heic": {},
	"heif": {},
}

// Roots are the absolute directories a category can resolve against.
type Roots struct {
	Library  string
	Temp     string
	Previews string
}

// Layout names the root (config.RootLibrary, config.RootTemp or
// config.RootPreviews) each file category resolves against.
type Layout struct {
	Original string
	Preview  string
	FullSize string
}

type Scheme struct {
	roots      Roots
	layout     Layout
	hashNaming bool
}

func New(roots Roots, layout Layout, hashNaming bool) (*Scheme, error) {
	for category, root := range map[string]string{
		"original":  layout.Original,
		"preview":   layout.Preview,
		"full size": layout.FullSize,
	} {
		switch root {
		case config.RootLibrary, config.RootTemp, config.RootPreviews:
		default:
			return nil, errors.Errorf("unknown %s root %q", category, root)
		}
	}
	return &Scheme{roots: roots, layout: layout, hashNaming: hashNaming}, nil
}

func NewFromConfig(cfg *config.Config) (*Scheme, error) {
	return New(
		Roots{Library: cfg.LibraryRoot, Temp: cfg.TempRoot, Previews: cfg.PreviewsRoot},
		Layout{Original: cfg.OriginalRoot, Preview: cfg.PreviewRoot, FullSize: cfg.FullSizeRoot},
		cfg.HashNaming,
	)
}

// Scratch returns a scheme with the same roots and naming mode where every
// category resolves against the temp root. Transient uploads use it.
func (s *Scheme) Scratch() *Scheme {
	return &Scheme{
		roots:      s.roots,
		layout:     Layout{Original: config.RootTemp, Preview: config.RootTemp, FullSize: config.RootTemp},
		hashNaming: s.hashNaming,
	}
}

func (s *Scheme) HashNaming() bool {
	return s.hashNaming
}

func (s *Scheme) Roots() Roots {
	return s.roots
}

func (s *Scheme) Layout() Layout {
	return s.layout
}

type Category int

const (
	CategoryOriginal Category = iota
	CategoryPreview
	CategoryFullSize
)

// Resolve joins a persisted path of the given category with its root.
func (s *Scheme) Resolve(c Category, p string) string {
	if p == "" {
		return ""
	}
	root := s.layout.Original
	switch c {
	case CategoryPreview:
		root = s.layout.Preview
	case CategoryFullSize:
		root = s.layout.FullSize
	}
	return filepath.Join(s.rootDir(root), filepath.FromSlash(path.Clean("/"+filepath.ToSlash(p))))
}

// Input is everything the scheme needs to know about an item.
type Input struct {
	Mimetype     string
	OriginalName string
	// BaseFolder is the item's directory relative to the library root.
	BaseFolder   string
	OriginalDate string
	ChangeDate   int64
	// Hash names artifacts when hash naming is enabled. The record id is used.
	Hash string
	// ThumbnailName is a file name chosen by the frame extractor. When set it
	// is used verbatim for video previews.
	ThumbnailName string
}

// InputFromMedia builds the scheme input describing the record as it is
// currently stored.
func InputFromMedia(m *models.Media) Input {
	name := m.OriginalName
	// The file on disk is authoritative for the name.
	if m.Filepath != "" {
		name = path.Base(filepath.ToSlash(m.Filepath))
	}
	in := Input{
		Mimetype:     m.Mimetype,
		OriginalName: name,
		BaseFolder:   m.Folder(),
		OriginalDate: m.OriginalDate,
		ChangeDate:   m.ChangeDate,
		Hash:         m.ID,
	}
	if m.IsVideo() && m.Preview != "" {
		in.ThumbnailName = path.Base(m.Preview)
	}
	return in
}

// Location is one file in both of its forms.
type Location struct {
	// Path is relative to the category root and always starts with "/". This
	// is what gets persisted.
	Path string
	// FullPath is the root joined with Path, used for I/O.
	FullPath string
}

func (l Location) IsZero() bool {
	return l.Path == ""
}

// Relative returns Path without its leading slash, the form used for the
// record's filepath column.
func (l Location) Relative() string {
	return strings.TrimPrefix(l.Path, "/")
}

// Paths are the derived locations of one item. FullSize is zero for items
// that never get a full-size JPEG.
type Paths struct {
	Original Location
	Preview  Location
	FullSize Location
	// BasePath is the base folder fragment prefixed to library-rooted paths.
	BasePath string
}

func (s *Scheme) Compute(in Input) (*Paths, error) {
	primary, subtype, ok := strings.Cut(strings.ToLower(in.Mimetype), "/")
	if !ok || primary == "" || subtype == "" {
		return nil, errors.Errorf("invalid mimetype %q", in.Mimetype)
	}
	if in.OriginalName == "" {
		return nil, errors.New("original name is required")
	}
	if s.hashNaming && in.Hash == "" {
		return nil, errors.New("hash is required when hash naming is enabled")
	}

	dateFolder, err := DateFolderName(in.OriginalDate, in.ChangeDate)
	if err != nil {
		return nil, err
	}

	baseFolder := cleanFolder(in.BaseFolder)
	isVideo := primary == models.MediaTypeVideo

	paths := &Paths{BasePath: baseFolder}
	paths.Original = s.locate(s.layout.Original, baseFolder, sanitizeName(in.OriginalName))

	var previewName string
	if isVideo && in.ThumbnailName != "" {
		previewName = sanitizeName(in.ThumbnailName)
	} else {
		previewName = s.ArtifactFileName(in, SizeClassPreview)
	}
	previewKey := PreviewFolderKey(primary, subtype, SizeClassPreview, dateFolder)
	paths.Preview = s.locate(s.layout.Preview, baseFolder, path.Join(previewKey, previewName))

	if !isVideo && NeedsConversion(in.Mimetype) {
		fullSizeKey := PreviewFolderKey(primary, subtype, SizeClassFullSize, dateFolder)
		fullSizeName := s.ArtifactFileName(in, SizeClassFullSize)
		paths.FullSize = s.locate(s.layout.FullSize, baseFolder, path.Join(fullSizeKey, fullSizeName))
	}

	return paths, nil
}

// ArtifactFileName names the preview or full-size artifact of an item, for
// example "abc123-preview.jpg" in hash mode or "IMG_0001-fullSize.jpg" in
// name mode.
func (s *Scheme) ArtifactFileName(in Input, sizeClass string) string {
	var stem string
	if s.hashNaming {
		stem = sanitizeName(in.Hash)
	} else {
		name := sanitizeName(in.OriginalName)
		stem = strings.TrimSuffix(name, path.Ext(name))
	}

	ext := artifactExtension(in.OriginalName)
	if strings.HasPrefix(strings.ToLower(in.Mimetype), models.MediaTypeVideo+"/") || sizeClass == SizeClassFullSize {
		ext = defaultExtension
	}
	return stem + "-" + sizeClass + "." + ext
}

// PreviewFolderKey returns "<primaryType>-<subtype>/<sizeClass>/<dateFolder>".
// Distinct (type, size class, date) combinations never share a directory.
func PreviewFolderKey(primaryType, subtype, sizeClass, dateFolder string) string {
	return primaryType + "-" + subtype + "/" + sizeClass + "/" + dateFolder
}

// NeedsConversion reports whether the mimetype denotes an image format that
// gets a full-size JPEG companion.
func NeedsConversion(mimetype string) bool {
	primary, subtype, _ := strings.Cut(strings.ToLower(mimetype), "/")
	if primary != models.MediaTypeImage {
		return false
	}
	_, ok := conversionSubtypes[subtype]
	return ok
}

func (s *Scheme) locate(root, baseFolder, rel string) Location {
	var p string
	if root == config.RootLibrary && baseFolder != "" {
		p = "/" + path.Join(baseFolder, rel)
	} else {
		p = "/" + strings.TrimPrefix(path.Clean("/"+rel), "/")
	}
	return Location{
		Path:     p,
		FullPath: filepath.Join(s.rootDir(root), filepath.FromSlash(p)),
	}
}

func (s *Scheme) rootDir(root string) string {
	switch root {
	case config.RootTemp:
		return s.roots.Temp
	case config.RootPreviews:
		return s.roots.Previews
	default:
		return s.roots.Library
	}
}

// encodableExtensions are the preview formats the resizer can write.
var encodableExtensions = map[string]struct{}{
	"jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "bmp": {}, "tif": {}, "tiff": {},
}

// artifactExtension keeps the source extension when the resizer can encode
// it. Everything else, including conversion formats and webp, gets a JPEG.
func artifactExtension(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if _, ok := encodableExtensions[ext]; !ok {
		return defaultExtension
	}
	return ext
}

func cleanFolder(folder string) string {
	folder = filepath.ToSlash(folder)
	if folder == "" {
		return ""
	}
	cleaned := strings.Trim(path.Clean("/"+folder), "/")
	if cleaned == "." {
		return ""
	}
	return cleaned
}

// sanitizeName keeps a name within a single path segment.
func sanitizeName(name string) string {
	name = strings.NewReplacer("/", "_", "\\", "_", "\x00", "").Replace(name)
	switch name {
	case ".", "..":
		return "_"
	}
	return name
}
