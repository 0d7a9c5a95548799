package render

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	logx "birthdaybot/pkg/logx"
)

type fakeAvatars struct {
	avatars map[string][]byte
}

func (f *fakeAvatars) AvatarJPEG(_ context.Context, memberID string) ([]byte, error) {
	b, ok := f.avatars[memberID]
	if !ok {
		return nil, errors.New("no avatar")
	}
	return b, nil
}

func avatarJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode avatar: %v", err)
	}
	return buf.Bytes()
}

func TestRenderComposesStrip(t *testing.T) {
	t.Parallel()
	src := &fakeAvatars{avatars: map[string][]byte{
		"111": avatarJPEG(t, 64, 64),
		"222": avatarJPEG(t, 256, 192),
	}}
	card := NewCard(src, logx.Nop())

	att, err := card.Render(context.Background(), []string{"111", "222"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if att.Filename != "birthdays.jpg" {
		t.Fatalf("filename = %q", att.Filename)
	}
	img, err := jpeg.Decode(bytes.NewReader(att.Data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 2*tileSize || b.Dy() != tileSize {
		t.Fatalf("strip bounds = %v", b)
	}
}

func TestRenderSkipsUnavailableAvatars(t *testing.T) {
	t.Parallel()
	src := &fakeAvatars{avatars: map[string][]byte{
		"111": avatarJPEG(t, 64, 64),
		"333": []byte("not an image"),
	}}
	card := NewCard(src, logx.Nop())

	att, err := card.Render(context.Background(), []string{"111", "222", "333"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(att.Data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if b := img.Bounds(); b.Dx() != tileSize {
		t.Fatalf("expected single tile, bounds = %v", b)
	}
}

func TestRenderFailsWithNoTiles(t *testing.T) {
	t.Parallel()
	card := NewCard(&fakeAvatars{}, logx.Nop())
	if _, err := card.Render(context.Background(), []string{"111"}); err == nil {
		t.Fatal("expected error when no avatar could be fetched")
	}
}

func TestRenderHonorsCanceledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	card := NewCard(&fakeAvatars{avatars: map[string][]byte{"111": avatarJPEG(t, 64, 64)}}, logx.Nop())
	if _, err := card.Render(ctx, []string{"111"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
