package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/slideshow-api/internal/config"
	"github.com/maauso/slideshow-api/internal/failure"
)

var (
	pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0}, 32)...)
	mp3Bytes = append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), bytes.Repeat([]byte{0}, 32)...)
)

func defaultConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	if env == nil {
		env = map[string]string{}
	}
	if _, ok := env["TEMP_DIR"]; !ok {
		env["TEMP_DIR"] = t.TempDir()
	}
	cfg, err := config.LoadFrom(context.Background(), envconfig.MapLookuper(env))
	require.NoError(t, err)
	return cfg
}

// fakeEngine writes a shell script standing in for ffmpeg; the output path
// is its last argument.
func fakeEngine(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engine scripts need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	script := "#!/bin/sh\nfor last; do :; done\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0700)) // #nosec G306 - test script must be executable
	return path
}

func writeAssets(t *testing.T, dir string, images int) []string {
	t.Helper()
	var paths []string
	for i := 0; i < images; i++ {
		p := filepath.Join(dir, fmt.Sprintf("slide%d.png", i))
		require.NoError(t, os.WriteFile(p, pngBytes, 0600))
		paths = append(paths, p)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bg.mp3"), mp3Bytes, 0600))
	return paths
}

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.Equal(t, "slideshow", cmd.Use)
	assert.Equal(t, Version, cmd.Version)

	names := make(map[string]*cobra.Command)
	for _, c := range cmd.Commands() {
		names[c.Use] = c
	}
	require.Contains(t, names, "compose")
	require.Contains(t, names, "plan")
	require.Contains(t, names, "serve")

	for _, name := range []string{"compose", "plan"} {
		c := names[name]
		for _, flag := range []string{"manifest", "image", "background", "foreground", "output", "width", "height", "fps", "image-duration", "shortest"} {
			assert.NotNil(t, c.Flags().Lookup(flag), "%s --%s", name, flag)
		}
		assert.Equal(t, "m", c.Flags().Lookup("manifest").Shorthand)
	}
	assert.NotNil(t, names["serve"].Flags().Lookup("port"))
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
images:
  - slides/01.png
  - /abs/02.jpg
background: music/theme.mp3
output: out/show.mp4
options:
  width: 1920
  height: 1080
  image_duration: 2500ms
  background_volume: 0.25
  shortest: false
`), 0600))

	m, err := LoadManifest(path)
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(dir, "slides/01.png"), "/abs/02.jpg"}, m.Images)
	assert.Equal(t, filepath.Join(dir, "music/theme.mp3"), m.Background)
	assert.Empty(t, m.Foreground)
	assert.Equal(t, filepath.Join(dir, "out/show.mp4"), m.Output)

	ov := m.Overrides()
	require.NotNil(t, ov.Width)
	assert.Equal(t, 1920, *ov.Width)
	require.NotNil(t, ov.ImageDuration)
	assert.Equal(t, 2500*time.Millisecond, *ov.ImageDuration)
	require.NotNil(t, ov.BackgroundVolume)
	assert.InDelta(t, 0.25, *ov.BackgroundVolume, 1e-9)
	require.NotNil(t, ov.Shortest)
	assert.False(t, *ov.Shortest)
	assert.Nil(t, ov.FrameRate)

	sub := m.Submission()
	require.Len(t, sub.Images, 2)
	assert.Equal(t, "images[1]", sub.Images[1].Field)
	assert.Equal(t, "02.jpg", sub.Images[1].Filename)
	require.NotNil(t, sub.Background)
	assert.Equal(t, "bgMusic", sub.Background.Field)
	assert.Nil(t, sub.Foreground)
}

func TestLoadManifest_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadManifest(filepath.Join(dir, "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(dir, "empty.yaml")
		require.NoError(t, os.WriteFile(path, nil, 0600))
		_, err := LoadManifest(path)
		assert.ErrorIs(t, err, ErrEmptyManifest)
	})

	t.Run("unknown key", func(t *testing.T) {
		path := filepath.Join(dir, "typo.yaml")
		require.NoError(t, os.WriteFile(path, []byte("images: [a.png]\nbackgroud: bg.mp3\n"), 0600))
		_, err := LoadManifest(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "backgroud")
	})

	t.Run("bad duration", func(t *testing.T) {
		path := filepath.Join(dir, "duration.yaml")
		require.NoError(t, os.WriteFile(path, []byte("images: [a.png]\noptions:\n  image_duration: forever\n"), 0600))
		_, err := LoadManifest(path)
		require.Error(t, err)
	})
}

func TestJobFlags_FlagsOverrideManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
images: [a.png, b.png]
background: bg.mp3
options:
  width: 640
  height: 360
`), 0600))

	flags := &jobFlags{}
	cmd := &cobra.Command{Use: "test"}
	flags.register(cmd)
	require.NoError(t, cmd.ParseFlags([]string{
		"-m", path,
		"--width", "1280",
		"--foreground", "/voice.wav",
		"--shortest=false",
	}))

	m, err := flags.resolve(cmd)
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png")}, m.Images)
	assert.Equal(t, filepath.Join(dir, "bg.mp3"), m.Background)
	assert.Equal(t, "/voice.wav", m.Foreground)
	assert.Equal(t, "output.mp4", m.Output)
	assert.Equal(t, 1280, *m.Options.Width)
	assert.Equal(t, 360, *m.Options.Height)
	assert.False(t, *m.Options.Shortest)
	assert.Nil(t, m.Options.FrameRate)
}

func TestJobFlags_ImagesReplaceManifestImages(t *testing.T) {
	flags := &jobFlags{}
	cmd := &cobra.Command{Use: "test"}
	flags.register(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"-i", "x.png", "-i", "y.png", "-o", "show.mp4", "--image-duration", "3s"}))

	m, err := flags.resolve(cmd)
	require.NoError(t, err)
	assert.Equal(t, []string{"x.png", "y.png"}, m.Images)
	assert.Equal(t, "show.mp4", m.Output)
	assert.Equal(t, 3*time.Second, *m.Options.ImageDuration)
}

func TestRunPlan(t *testing.T) {
	cfg := defaultConfig(t, map[string]string{"FFMPEG_PATH": "/opt/ffmpeg/bin/ffmpeg"})
	m := &Manifest{
		Images:     []string{"/in/one.png", "/in/my slide.jpg"},
		Background: "/in/bg.mp3",
		Output:     "/out/show.mp4",
	}

	var out bytes.Buffer
	require.NoError(t, runPlan(cfg, m, &out))

	line := out.String()
	assert.Contains(t, line, "/opt/ffmpeg/bin/ffmpeg -hide_banner")
	assert.Contains(t, line, "-i /in/one.png")
	assert.Contains(t, line, "-i '/in/my slide.jpg'")
	assert.Contains(t, line, "-filter_complex '")
	assert.Contains(t, line, "concat=n=2")
	assert.Contains(t, line, "-t 10.000")
	assert.Contains(t, line, "/out/show.mp4")
}

func TestRunPlan_Validation(t *testing.T) {
	cfg := defaultConfig(t, nil)

	t.Run("background required", func(t *testing.T) {
		err := runPlan(cfg, &Manifest{Images: []string{"a.png"}, Output: "o.mp4"}, io.Discard)
		assert.ErrorIs(t, err, failure.ErrValidation)
		fe, ok := failure.As(err)
		require.True(t, ok)
		assert.Equal(t, "bgMusic", fe.Field)
	})

	t.Run("no images", func(t *testing.T) {
		err := runPlan(cfg, &Manifest{Background: "bg.mp3", Output: "o.mp4"}, io.Discard)
		fe, ok := failure.As(err)
		require.True(t, ok)
		assert.Equal(t, "images", fe.Field)
	})

	t.Run("bad option", func(t *testing.T) {
		fps := 0
		m := &Manifest{Images: []string{"a.png"}, Background: "bg.mp3", Output: "o.mp4"}
		m.Options.FrameRate = &fps
		err := runPlan(cfg, m, io.Discard)
		fe, ok := failure.As(err)
		require.True(t, ok)
		assert.Equal(t, "frame_rate", fe.Field)
	})
}

func TestShellJoin(t *testing.T) {
	assert.Equal(t, "ffmpeg -i a.png", shellJoin([]string{"ffmpeg", "-i", "a.png"}))
	assert.Equal(t, "echo 'a b' ''", shellJoin([]string{"echo", "a b", ""}))
	assert.Equal(t, `echo 'it'\''s'`, shellJoin([]string{"echo", "it's"}))
	assert.Equal(t, "x '[0:v]scale=2:2'", shellJoin([]string{"x", "[0:v]scale=2:2"}))
}

func TestComposeCommand_WritesOutput(t *testing.T) {
	engine := fakeEngine(t, `head -c 4096 /dev/zero > "$last"`)
	dir := t.TempDir()
	images := writeAssets(t, dir, 2)
	output := filepath.Join(dir, "out", "show.mp4")

	t.Setenv("FFMPEG_PATH", engine)
	t.Setenv("TEMP_DIR", filepath.Join(dir, "work"))
	t.Setenv("LOG_LEVEL", "error")

	root := BuildCLI()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs([]string{"compose",
		"-i", images[0], "-i", images[1],
		"-b", filepath.Join(dir, "bg.mp3"),
		"-o", output,
		"--image-duration", "1s",
	})

	require.NoError(t, root.ExecuteContext(context.Background()), stderr.String())

	info, err := os.Stat(output)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), info.Size())
	assert.Contains(t, stdout.String(), "SUCCEEDED")
	assert.Contains(t, stdout.String(), output)

	entries, err := os.ReadDir(filepath.Join(dir, "work"))
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace should be released")
}

func TestComposeCommand_EngineFailure(t *testing.T) {
	engine := fakeEngine(t, `echo "Invalid data found when processing input" >&2; exit 1`)
	dir := t.TempDir()
	images := writeAssets(t, dir, 1)

	t.Setenv("FFMPEG_PATH", engine)
	t.Setenv("TEMP_DIR", filepath.Join(dir, "work"))
	t.Setenv("LOG_LEVEL", "error")

	root := BuildCLI()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs([]string{"compose", "-i", images[0], "-b", filepath.Join(dir, "bg.mp3"), "-o", filepath.Join(dir, "o.mp4")})

	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Equal(t, failure.KindEngine, failure.KindOf(err))
	assert.Contains(t, stderr.String(), "Invalid data found when processing input")
	assert.NoFileExists(t, filepath.Join(dir, "o.mp4"))
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	cfg := defaultConfig(t, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, logger, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) // #nosec G107 - local test server
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
