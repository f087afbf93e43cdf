package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/photoshelf/photoshelf/pkg/config"
	"github.com/photoshelf/photoshelf/pkg/fileutils"
	"github.com/photoshelf/photoshelf/pkg/imageproc"
	"github.com/photoshelf/photoshelf/pkg/models"
	"github.com/photoshelf/photoshelf/pkg/pathscheme"
	"github.com/photoshelf/photoshelf/pkg/relocator"
	"github.com/photoshelf/photoshelf/pkg/videothumb"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resizeCall struct {
	src, dst string
	dims     imageproc.Dimensions
}

type fakeResizer struct {
	mu     sync.Mutex
	calls  []resizeCall
	failOn string
	block  bool
}

func (r *fakeResizer) Resize(ctx context.Context, src, dst string, dims imageproc.Dimensions, _ int) error {
	r.mu.Lock()
	r.calls = append(r.calls, resizeCall{src, dst, dims})
	r.mu.Unlock()

	if r.block {
		<-ctx.Done()
		return errors.WithStack(ctx.Err())
	}
	if r.failOn != "" && filepath.Base(dst) == r.failOn {
		return errors.New("decode failed")
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.WriteFile(dst, []byte("resized "+filepath.Base(src)), 0600)
}

type fakeExtractor struct {
	calls int
}

func (e *fakeExtractor) ExtractFrame(_ context.Context, _, targetDir string, opts videothumb.FrameOptions) (string, error) {
	e.calls++
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return "", err
	}
	return opts.Name, os.WriteFile(filepath.Join(targetDir, opts.Name), []byte("frame"), 0600)
}

type countingStore struct {
	*fileutils.Store
	ops int
}

func (s *countingStore) Exists(path string) (bool, error) {
	s.ops++
	return s.Store.Exists(path)
}

func (s *countingStore) Remove(path string) error {
	s.ops++
	return s.Store.Remove(path)
}

type fixture struct {
	roots     pathscheme.Roots
	resizer   *fakeResizer
	extractor *fakeExtractor
	store     *countingStore
	builder   *Builder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	roots := pathscheme.Roots{
		Library:  filepath.Join(dir, "library"),
		Temp:     filepath.Join(dir, "temp"),
		Previews: filepath.Join(dir, "previews"),
	}
	scheme, err := pathscheme.New(roots, pathscheme.Layout{
		Original: config.RootLibrary,
		Preview:  config.RootPreviews,
		FullSize: config.RootPreviews,
	}, true)
	require.NoError(t, err)

	f := &fixture{
		roots:     roots,
		resizer:   &fakeResizer{},
		extractor: &fakeExtractor{},
		store:     &countingStore{Store: fileutils.NewStore()},
	}
	f.builder = NewBuilder(scheme, f.resizer, f.extractor, f.store, Settings{
		PreviewDimensions: imageproc.Dimensions{MaxWidth: 100, MaxHeight: 100},
		PreviewQuality:    80,
		FullSizeQuality:   92,
		VideoTimestamp:    time.Second,
		VideoSize:         100,
		Timeout:           time.Second,
	})
	return f
}

func (f *fixture) writeOriginal(t *testing.T, root string, m *models.Media) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(m.Filepath))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte("original"), 0600))
}

func testContext() context.Context {
	return logger.New().WithContext(context.Background())
}

func heicMedia() *models.Media {
	return &models.Media{
		ID:           "abc123",
		OriginalName: "IMG_0001.heic",
		Mimetype:     "image/heic",
		Filepath:     "main/2020/IMG_0001.heic",
		OriginalDate: models.DateUnknown,
		ChangeDate:   1327536000000,
	}
}

func TestGenerate_ConversionImage(t *testing.T) {
	f := newFixture(t)
	m := heicMedia()
	f.writeOriginal(t, f.roots.Library, m)

	result, err := f.builder.Generate(testContext(), m, Options{})
	require.NoError(t, err)

	assert.Equal(t, "/image-heic/preview/2012.01.26 - changeDate/abc123-preview.jpg", result.Preview)
	assert.Equal(t, "/image-heic/fullSize/2012.01.26 - changeDate/abc123-fullSize.jpg", result.FullSizeJpg)
	assert.Equal(t, filepath.Join(f.roots.Previews, "image-heic/fullSize/2012.01.26 - changeDate/abc123-fullSize.jpg"), result.FullSizeJpgPath)
	assert.Len(t, result.Created, 2)

	require.Len(t, f.resizer.calls, 2)
	assert.Equal(t, filepath.Join(f.roots.Library, "main/2020/IMG_0001.heic"), f.resizer.calls[0].src)
	assert.True(t, f.resizer.calls[0].dims.Unconstrained())
	assert.Equal(t, result.FullSizeJpgPath, f.resizer.calls[1].src, "preview is cut from the full-size jpeg")

	result.Apply(m)
	assert.Equal(t, result.Preview, m.Preview)
}

func TestGenerate_SkipsWithoutIO(t *testing.T) {
	f := newFixture(t)
	m := heicMedia()
	f.writeOriginal(t, f.roots.Library, m)

	first, err := f.builder.Generate(testContext(), m, Options{})
	require.NoError(t, err)
	first.Apply(m)

	resizes := len(f.resizer.calls)
	ops := f.store.ops

	second, err := f.builder.Generate(testContext(), m, Options{})
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, first.Preview, second.Preview)
	assert.Equal(t, resizes, len(f.resizer.calls))
	assert.Equal(t, ops, f.store.ops)
}

func TestGenerate_ExistingTargetWithoutRecreate(t *testing.T) {
	f := newFixture(t)
	m := &models.Media{
		ID:           "id1",
		OriginalName: "beach.jpg",
		Mimetype:     "image/jpeg",
		Filepath:     "beach.jpg",
		OriginalDate: "2019-07-04",
	}
	f.writeOriginal(t, f.roots.Library, m)

	target := filepath.Join(f.roots.Previews, "image-jpeg/preview/2019.07.04 - originalDate/id1-preview.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0755))
	require.NoError(t, os.WriteFile(target, []byte("stray"), 0600))

	_, err := f.builder.Generate(testContext(), m, Options{})

	var genErr *ArtifactGenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, target, genErr.TargetPath)
	var existsErr *relocator.TargetExistsError
	assert.ErrorAs(t, err, &existsErr)
	assert.Empty(t, f.resizer.calls)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "stray", string(data))
}

func TestGenerate_RecreateReplacesTargets(t *testing.T) {
	f := newFixture(t)
	m := heicMedia()
	f.writeOriginal(t, f.roots.Library, m)

	first, err := f.builder.Generate(testContext(), m, Options{})
	require.NoError(t, err)
	first.Apply(m)

	second, err := f.builder.Generate(testContext(), m, Options{Recreate: true})
	require.NoError(t, err)
	assert.False(t, second.Skipped)
	assert.Equal(t, first.Preview, second.Preview)
	assert.Len(t, f.resizer.calls, 4)
}

func TestGenerate_Video(t *testing.T) {
	f := newFixture(t)
	m := &models.Media{
		ID:           "vid1",
		OriginalName: "clip.mp4",
		Mimetype:     "video/mp4",
		Filepath:     "clips/clip.mp4",
		OriginalDate: "2020-01-01",
	}
	f.writeOriginal(t, f.roots.Library, m)

	result, err := f.builder.Generate(testContext(), m, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.extractor.calls)
	assert.Empty(t, f.resizer.calls)
	assert.Equal(t, "/video-mp4/preview/2020.01.01 - originalDate/vid1-preview.jpg", result.Preview)
	assert.Empty(t, result.FullSizeJpg)

	_, err = os.Stat(filepath.Join(f.roots.Previews, filepath.FromSlash(result.Preview)))
	assert.NoError(t, err)
}

func TestGenerate_FailureRemovesPartialArtifacts(t *testing.T) {
	f := newFixture(t)
	f.resizer.failOn = "abc123-preview.jpg"
	m := heicMedia()
	f.writeOriginal(t, f.roots.Library, m)

	_, err := f.builder.Generate(testContext(), m, Options{})

	var genErr *ArtifactGenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "abc123", genErr.ItemID)

	fullSize := filepath.Join(f.roots.Previews, "image-heic/fullSize/2012.01.26 - changeDate/abc123-fullSize.jpg")
	_, statErr := os.Stat(fullSize)
	assert.True(t, os.IsNotExist(statErr))
}

func TestGenerate_DontPersistUsesTempRoot(t *testing.T) {
	f := newFixture(t)
	m := &models.Media{
		ID:           "tmp1",
		OriginalName: "upload.png",
		Mimetype:     "image/png",
		Filepath:     "upload.png",
		OriginalDate: "2021-02-03",
	}
	f.writeOriginal(t, f.roots.Temp, m)

	result, err := f.builder.Generate(testContext(), m, Options{DontPersist: true})
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	assert.Equal(t, filepath.Join(f.roots.Temp, "image-png/preview/2021.02.03 - originalDate/tmp1-preview.png"), result.Created[0])
	assert.Equal(t, filepath.Join(f.roots.Temp, "upload.png"), f.resizer.calls[0].src)
}

func TestGenerate_Timeout(t *testing.T) {
	f := newFixture(t)
	f.builder.settings.Timeout = 20 * time.Millisecond
	f.resizer.block = true
	m := &models.Media{ID: "slow", OriginalName: "a.jpg", Mimetype: "image/jpeg", Filepath: "a.jpg", OriginalDate: "2020-01-01"}

	_, err := f.builder.Generate(testContext(), m, Options{})

	var genErr *ArtifactGenerationError
	require.ErrorAs(t, err, &genErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
