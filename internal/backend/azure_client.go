package backend

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// realAzureClient wraps the official Azure SDK client to satisfy AzureBlobAPI.
type realAzureClient struct {
	client *azblob.Client
}

// newRealAzureClient creates a real Azure Blob client. If connectionString is
// non-empty, it uses connection string auth. If useManagedIdentity is true,
// it uses managed identity credentials. Otherwise it falls back to
// DefaultAzureCredential.
func newRealAzureClient(accountURL, connectionString string, useManagedIdentity bool) (*realAzureClient, error) {
	if connectionString != "" {
		client, err := azblob.NewClientFromConnectionString(connectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("creating Azure Blob client from connection string: %w", err)
		}
		return &realAzureClient{client: client}, nil
	}

	if useManagedIdentity {
		cred, err := azidentity.NewManagedIdentityCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("creating Azure managed identity credential: %w", err)
		}
		client, err := azblob.NewClient(accountURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("creating Azure Blob client with managed identity: %w", err)
		}
		return &realAzureClient{client: client}, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("creating Azure credential: %w", err)
	}
	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating Azure Blob client: %w", err)
	}
	return &realAzureClient{client: client}, nil
}

func (c *realAzureClient) UploadBlob(ctx context.Context, container, blobName string, data []byte, contentType string, metadata map[string]string) error {
	meta := make(map[string]*string, len(metadata))
	for k, v := range metadata {
		meta[k] = to.Ptr(v)
	}
	_, err := c.client.UploadBuffer(ctx, container, blobName, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)},
		Metadata:    meta,
	})
	return err
}

func (c *realAzureClient) DownloadBlob(ctx context.Context, container, blobName string) ([]byte, error) {
	resp, err := c.client.DownloadStream(ctx, container, blobName, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (c *realAzureClient) DeleteBlob(ctx context.Context, container, blobName string) error {
	_, err := c.client.DeleteBlob(ctx, container, blobName, nil)
	return err
}

func (c *realAzureClient) BlobProperties(ctx context.Context, container, blobName string) (*AzureBlobProps, error) {
	resp, err := c.client.ServiceClient().NewContainerClient(container).NewBlobClient(blobName).GetProperties(ctx, nil)
	if err != nil {
		return nil, err
	}

	props := &AzureBlobProps{Name: blobName, Metadata: make(map[string]string)}
	if resp.ContentLength != nil {
		props.Size = *resp.ContentLength
	}
	if resp.ContentType != nil {
		props.ContentType = *resp.ContentType
	}
	if resp.LastModified != nil {
		props.LastModified = *resp.LastModified
	}
	for k, v := range resp.Metadata {
		if v != nil {
			props.Metadata[k] = *v
		}
	}
	return props, nil
}

func (c *realAzureClient) ListBlobs(ctx context.Context, container, prefix string) ([]*AzureBlobProps, error) {
	pager := c.client.NewListBlobsFlatPager(container, &azblob.ListBlobsFlatOptions{
		Prefix:  to.Ptr(prefix),
		Include: azblob.ListBlobsInclude{Metadata: true},
	})

	var out []*AzureBlobProps
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			props := &AzureBlobProps{Name: *item.Name, Metadata: make(map[string]string)}
			if item.Properties != nil {
				if item.Properties.ContentLength != nil {
					props.Size = *item.Properties.ContentLength
				}
				if item.Properties.ContentType != nil {
					props.ContentType = *item.Properties.ContentType
				}
				if item.Properties.LastModified != nil {
					props.LastModified = *item.Properties.LastModified
				}
			}
			for k, v := range item.Metadata {
				if v != nil {
					props.Metadata[k] = *v
				}
			}
			out = append(out, props)
		}
	}
	return out, nil
}
