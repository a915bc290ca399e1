package mwbridge

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"
)

// patchBlobCache mirrors GetPatch misses into an Azure Blob Storage
// container, keyed by client token (§4.I). Patch bytes are immutable once
// fetched, so this stores and serves one whole block blob per client token
// rather than an append log.
type patchBlobCache struct {
	client    *service.Client
	container *container.Client
}

func newPatchBlobCache(opts *patchBlobCacheOptions) (*patchBlobCache, error) {
	cred, err := azblob.NewSharedKeyCredential(opts.account, opts.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientCreationFailed, err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", opts.account)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientCreationFailed, err)
	}
	svc := client.ServiceClient()
	cc := svc.NewContainerClient(opts.container)
	if _, err := cc.Create(context.Background(), nil); err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil, fmt.Errorf("create patch cache container: %w", err)
	}
	return &patchBlobCache{client: svc, container: cc}, nil
}

// get returns the cached patch bytes for clientToken, if present.
func (c *patchBlobCache) get(ctx context.Context, clientToken string) ([]byte, bool, error) {
	resp, err := c.container.NewBlobClient(clientToken).DownloadStream(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// put writes data as the whole-object patch blob for clientToken,
// overwriting any prior content (patch bytes never change for a given
// token, so this is expected to be write-once in practice).
func (c *patchBlobCache) put(ctx context.Context, clientToken string, data []byte) error {
	_, err := c.container.NewBlockBlobClient(clientToken).Upload(ctx, streaming.NopCloser(bytes.NewReader(data)), nil)
	return err
}

// ErrClientCreationFailed is returned when an Azure SDK client cannot be
// constructed from the supplied credentials.
var ErrClientCreationFailed = fmt.Errorf("failed to create storage client")
