package authctl

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/dmitrijs2005/authservice/internal/netx"
)

type attachmentUploader interface {
	PresignUpload(ctx context.Context, key string) (string, error)
}

var uploadObject = netx.UploadToPresignedURL

// UploadAttachment stores the file at localPath under users/<username>/ and
// returns the object key to record on the user.
func UploadAttachment(ctx context.Context, up attachmentUploader, username, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("read attachment: %w", err)
	}

	key := path.Join("users", username, filepath.Base(localPath))
	url, err := up.PresignUpload(ctx, key)
	if err != nil {
		return "", err
	}

	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	if err := uploadObject(ctx, nil, url, contentType, data); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}
