package imagestore

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"closet-api/internal/imageproc"
	"closet-api/internal/localstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testImage() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 6, 4))
	img.Set(1, 1, color.NRGBA{R: 255, A: 255})
	return img
}

func TestSaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	backend := localstore.New(t.TempDir(), "http://files.local")
	store := New(backend, "/closet/", imageproc.FormatPNG)

	ref, err := store.Save(ctx, testImage())
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, ref.ID)
	require.Equal(t, "http://files.local/closet/"+ref.ID.String()+".png", ref.URL)
	require.Equal(t, "image/png", ref.ContentType)

	img, err := store.Load(ctx, ref.ID)
	require.NoError(t, err)
	require.Equal(t, image.Pt(6, 4), img.Bounds().Size())

	data, contentType, err := store.Raw(ctx, ref.ID)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	require.Equal(t, "image/png", contentType)

	require.NoError(t, store.Delete(ctx, ref.ID))
	_, err = store.Load(ctx, ref.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, store.Delete(ctx, ref.ID), ErrNotFound)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	backend := localstore.New(t.TempDir(), "")
	store := New(backend, "closet", imageproc.FormatJPEG)

	var want []uuid.UUID
	for i := 0; i < 3; i++ {
		ref, err := store.Save(ctx, testImage())
		require.NoError(t, err)
		want = append(want, ref.ID)
	}
	// foreign objects are ignored
	_, err := backend.Upload(ctx, "closet/readme.txt", []byte("x"), "")
	require.NoError(t, err)
	_, err = backend.Upload(ctx, "closet/not-a-uuid.jpg", []byte("x"), "")
	require.NoError(t, err)
	_, err = backend.Upload(ctx, "closet/cutouts/"+uuid.NewString()+".jpg", []byte("x"), "")
	require.NoError(t, err)

	got, err := store.List(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, want, got)
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1].String(), got[i].String())
	}
}

func TestSaveWithIDUsesGivenID(t *testing.T) {
	ctx := context.Background()
	store := New(localstore.New(t.TempDir(), ""), "", imageproc.FormatWebP)
	id := uuid.New()

	ref, err := store.SaveWithID(ctx, id, testImage())
	require.NoError(t, err)
	require.Equal(t, id, ref.ID)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{id}, ids)
}

type brokenBackend struct{ Backend }

func (brokenBackend) Upload(context.Context, string, []byte, string) (string, error) {
	return "", errors.New("disk full")
}

func TestSaveReportsBackendFailure(t *testing.T) {
	store := New(brokenBackend{}, "closet", imageproc.FormatJPEG)
	_, err := store.Save(context.Background(), testImage())
	require.ErrorContains(t, err, "disk full")
}
