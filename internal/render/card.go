// Package render produces the optional birthday-card attachment: the due
// members' avatars composed into a horizontal strip. Rendering is best
// effort; callers treat any error as "send text-only".
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	_ "image/png" // avatar decode

	kit "birthdaybot/internal/transport"
	logx "birthdaybot/pkg/logx"
)

const (
	tileSize   = 128
	maxAvatars = 10
	jpegQual   = 85
)

// AvatarSource fetches a member's current avatar.
type AvatarSource interface {
	AvatarJPEG(ctx context.Context, memberID string) ([]byte, error)
}

type Card struct {
	src AvatarSource
	log logx.Logger
}

func NewCard(src AvatarSource, log logx.Logger) *Card {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Card{src: src, log: log}
}

// Render fetches and composes avatars for memberIDs. Individual members
// without a fetchable avatar are skipped; Render fails only when no tile
// could be produced at all.
func (c *Card) Render(ctx context.Context, memberIDs []string) (kit.Attachment, error) {
	if len(memberIDs) > maxAvatars {
		memberIDs = memberIDs[:maxAvatars]
	}

	var tiles []image.Image
	for _, id := range memberIDs {
		if err := ctx.Err(); err != nil {
			return kit.Attachment{}, err
		}
		b, err := c.src.AvatarJPEG(ctx, id)
		if err != nil {
			c.log.Debug("avatar unavailable", logx.String("member", id), logx.Err(err))
			continue
		}
		img, _, err := image.Decode(bytes.NewReader(b))
		if err != nil {
			c.log.Debug("avatar decode failed", logx.String("member", id), logx.Err(err))
			continue
		}
		tiles = append(tiles, scaleTo(img, tileSize))
	}
	if len(tiles) == 0 {
		return kit.Attachment{}, errors.New("render: no avatars available")
	}

	strip := image.NewRGBA(image.Rect(0, 0, tileSize*len(tiles), tileSize))
	for i, t := range tiles {
		r := image.Rect(i*tileSize, 0, (i+1)*tileSize, tileSize)
		draw.Draw(strip, r, t, image.Point{}, draw.Src)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, strip, &jpeg.Options{Quality: jpegQual}); err != nil {
		return kit.Attachment{}, fmt.Errorf("render: encode: %w", err)
	}
	return kit.Attachment{Filename: "birthdays.jpg", Data: buf.Bytes()}, nil
}

// scaleTo resizes img to size x size with nearest-neighbor sampling. Avatars
// are small and square-ish; fancier filtering is not worth a dependency.
func scaleTo(img image.Image, size int) image.Image {
	b := img.Bounds()
	if b.Dx() == size && b.Dy() == size {
		return img
	}
	out := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		sy := b.Min.Y + y*b.Dy()/size
		for x := 0; x < size; x++ {
			sx := b.Min.X + x*b.Dx()/size
			out.Set(x, y, img.At(sx, sy))
		}
	}
	return out
}
