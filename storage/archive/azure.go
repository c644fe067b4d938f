package archive

import (
	"context"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/como-project/como/cmn"
)

// AzureBackend archives chunks to an Azure Blob Storage container.
type AzureBackend struct {
	client    *azblob.Client
	container string
}

func NewAzureBackend(accountURL string, cred azblob.SharedKeyCredential, container string) (*AzureBackend, error) {
	client, err := azblob.NewClientWithSharedKeyCredential(accountURL, &cred, nil)
	if err != nil {
		return nil, cmn.Wrap(cmn.KindIO, err, "construct azure blob client")
	}
	return &AzureBackend{client: client, container: container}, nil
}

func (b *AzureBackend) Name() string { return "azure" }

func (b *AzureBackend) Put(ctx context.Context, key string, data []byte) error {
	_, err := b.client.UploadBuffer(ctx, b.container, key, data, nil)
	if err != nil {
		return cmn.Wrap(cmn.KindIO, err, "azure put "+key)
	}
	return nil
}

func (b *AzureBackend) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := b.client.DownloadStream(ctx, b.container, key, nil)
	if err != nil {
		return nil, cmn.Wrap(cmn.KindIO, err, "azure get "+key)
	}
	body := resp.Body
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, cmn.Wrap(cmn.KindIO, err, "azure read body for "+key)
	}
	return data, nil
}
