package vulkan

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBGRAToImageSwapsChannels(t *testing.T) {
	// One blue pixel, one red pixel, full alpha.
	pixels := []byte{
		0xff, 0x00, 0x00, 0xff,
		0x00, 0x00, 0xff, 0xff,
	}
	img := BGRAToImage(pixels, 2, 1)

	r, g, b, a := img.At(0, 0).RGBA()
	assert.Equal(t, []uint32{0, 0, 0xffff, 0xffff}, []uint32{r, g, b, a})

	r, g, b, a = img.At(1, 0).RGBA()
	assert.Equal(t, []uint32{0xffff, 0, 0, 0xffff}, []uint32{r, g, b, a})
}

func TestBGRAToImageTruncatedInput(t *testing.T) {
	// Fewer bytes than the image needs must not panic; missing pixels stay
	// zero.
	img := BGRAToImage([]byte{1, 2, 3, 4}, 2, 2)
	assert.Equal(t, 2, img.Bounds().Dx())
	_, _, _, a := img.At(1, 1).RGBA()
	assert.Equal(t, uint32(0), a)
}

func TestPersistScreenshotRefusesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shot.png")

	pixels := make([]byte, 4*4*4)
	require.NoError(t, PersistScreenshot(pixels, 4, 4, ScreenshotRequest{Path: path, Overwrite: true}))

	err := PersistScreenshot(pixels, 4, 4, ScreenshotRequest{Path: path, Overwrite: false})
	assert.Error(t, err)

	assert.NoError(t, PersistScreenshot(pixels, 4, 4, ScreenshotRequest{Path: path, Overwrite: true}))
}
