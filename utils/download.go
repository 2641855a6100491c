package utils

import (
	"context"
	"os"

	getter "github.com/hashicorp/go-getter"
	"golang.org/x/xerrors"
)

// DownloadToTempFile downloads src with go-getter into a temp file. Archives are decompressed
// by the getter, so the returned file holds the inner document.
func DownloadToTempFile(ctx context.Context, src string) (string, error) {
	f, err := os.CreateTemp("", "vuln-index")
	if err != nil {
		return "", xerrors.Errorf("failed to create a temp file: %w", err)
	}
	if err = f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", xerrors.Errorf("close error: %w", err)
	}

	if err = download(ctx, src, f.Name(), getter.ClientModeFile); err != nil {
		_ = os.Remove(f.Name())
		return "", xerrors.Errorf("download error: %w", err)
	}

	return f.Name(), nil
}

func download(ctx context.Context, src, dst string, mode getter.ClientMode) error {
	pwd, err := os.Getwd()
	if err != nil {
		return xerrors.Errorf("unable to get the current dir: %w", err)
	}

	// Build the client
	client := &getter.Client{
		Ctx:     ctx,
		Src:     src,
		Dst:     dst,
		Pwd:     pwd,
		Getters: getter.Getters,
		Mode:    mode,
	}

	if err = client.Get(); err != nil {
		return xerrors.Errorf("failed to download: %w", err)
	}

	return nil
}
