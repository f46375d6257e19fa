package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/rs/zerolog"
)

// blobContainer is the container surface the backend uses. Errors come back
// unmapped from the SDK.
type blobContainer interface {
	upload(ctx context.Context, name string, r io.Reader, contentType string) error
	download(ctx context.Context, name string) (io.ReadCloser, error)
	properties(ctx context.Context, name string) (ObjectInfo, error)
	list(ctx context.Context, prefix string) ([]ObjectInfo, error)
	remove(ctx context.Context, name string) error
}

// AzureBlobBackend stores exports as block blobs in one container.
type AzureBlobBackend struct {
	blobs         blobContainer
	containerName string
	logger        zerolog.Logger
}

// AzureBlobConfig holds Azure Blob Storage backend configuration
type AzureBlobConfig struct {
	ConnectionString string

	AccountName string
	AccountKey  string

	// Managed Identity authentication (for Azure-hosted deployments)
	UseManagedIdentity bool

	ContainerName string

	// Custom endpoint (for Azurite testing)
	Endpoint string
}

// NewAzureBlobBackend creates a new Azure Blob Storage backend
func NewAzureBlobBackend(cfg *AzureBlobConfig, logger zerolog.Logger) (*AzureBlobBackend, error) {
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("Azure container name is required")
	}

	log := logger.With().Str("component", "azure-storage").Str("container", cfg.ContainerName).Logger()

	endpoint := cfg.Endpoint
	if endpoint == "" && cfg.AccountName != "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName)
	}

	var client *azblob.Client
	var err error

	switch {
	case cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client from connection string: %w", err)
		}
		log.Info().Msg("Using connection string authentication for Azure Blob Storage")

	case cfg.AccountName != "" && cfg.AccountKey != "":
		cred, credErr := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("failed to create shared key credential: %w", credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(endpoint, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client with shared key: %w", err)
		}
		log.Info().Msg("Using shared key authentication for Azure Blob Storage")

	case cfg.UseManagedIdentity && cfg.AccountName != "":
		cred, credErr := azidentity.NewDefaultAzureCredential(nil)
		if credErr != nil {
			return nil, fmt.Errorf("failed to create managed identity credential: %w", credErr)
		}
		client, err = azblob.NewClient(endpoint, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client with managed identity: %w", err)
		}
		log.Info().Msg("Using managed identity authentication for Azure Blob Storage")

	default:
		return nil, fmt.Errorf("no valid Azure authentication method configured. Provide connection_string, account_name+account_key, or account_name+use_managed_identity")
	}

	cc := client.ServiceClient().NewContainerClient(cfg.ContainerName)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := cc.GetProperties(ctx, nil); err != nil {
		log.Warn().Err(err).Msg("Could not verify container exists (may need to create it)")
	} else {
		log.Info().Msg("Successfully connected to Azure Blob Storage container")
	}

	return &AzureBlobBackend{
		blobs:         sdkContainer{cc},
		containerName: cfg.ContainerName,
		logger:        log,
	}, nil
}

// Put streams r into a block blob. Blocks are committed only once the
// whole stream is staged, so a failed upload leaves no blob.
func (b *AzureBlobBackend) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	start := time.Now()
	if err := b.blobs.upload(ctx, key, r, contentType(key)); err != nil {
		b.logger.Error().Err(err).Str("key", key).Int64("size", size).Msg("Failed to write to Azure Blob Storage")
		return fmt.Errorf("write %s to Azure Blob Storage: %w", key, err)
	}

	b.logger.Debug().
		Str("key", key).
		Dur("duration", time.Since(start)).
		Msg("Wrote to Azure Blob Storage")
	return nil
}

func (b *AzureBlobBackend) Get(ctx context.Context, key string, w io.Writer) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	body, err := b.blobs.download(ctx, key)
	if err != nil {
		if isAzureNotFoundError(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("read %s from Azure Blob Storage: %w", key, err)
	}
	defer body.Close()

	if _, err := io.Copy(w, body); err != nil {
		return fmt.Errorf("read %s from Azure Blob Storage: %w", key, err)
	}
	return nil
}

func (b *AzureBlobBackend) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if err := CheckKey(key); err != nil {
		return ObjectInfo{}, err
	}
	info, err := b.blobs.properties(ctx, key)
	if err != nil {
		if isAzureNotFoundError(err) {
			return ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return ObjectInfo{}, fmt.Errorf("stat %s in Azure Blob Storage: %w", key, err)
	}
	return info, nil
}

func (b *AzureBlobBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := checkPrefix(prefix); err != nil {
		return nil, err
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	objs, err := b.blobs.list(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %q in Azure Blob Storage: %w", prefix, err)
	}
	return sortByKey(objs), nil
}

func (b *AzureBlobBackend) Delete(ctx context.Context, key string) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	if err := b.blobs.remove(ctx, key); err != nil {
		if isAzureNotFoundError(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("delete %s from Azure Blob Storage: %w", key, err)
	}

	b.logger.Debug().Str("key", key).Msg("Deleted from Azure Blob Storage")
	return nil
}

func (b *AzureBlobBackend) Close() error {
	b.logger.Info().Msg("Azure Blob Storage backend closed")
	return nil
}

func (b *AzureBlobBackend) Type() string {
	return "azure"
}

func isAzureNotFoundError(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound
	}
	return strings.Contains(err.Error(), "BlobNotFound")
}

// sdkContainer adapts *container.Client to blobContainer.
type sdkContainer struct {
	c *container.Client
}

func (s sdkContainer) upload(ctx context.Context, name string, r io.Reader, ct string) error {
	_, err := s.c.NewBlockBlobClient(name).UploadStream(ctx, r, &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &ct},
	})
	return err
}

func (s sdkContainer) download(ctx context.Context, name string) (io.ReadCloser, error) {
	resp, err := s.c.NewBlobClient(name).DownloadStream(ctx, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (s sdkContainer) properties(ctx context.Context, name string) (ObjectInfo, error) {
	props, err := s.c.NewBlobClient(name).GetProperties(ctx, nil)
	if err != nil {
		return ObjectInfo{}, err
	}
	info := ObjectInfo{Key: name}
	if props.ContentLength != nil {
		info.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		info.ModifiedAt = props.LastModified.UTC()
	}
	return info, nil
}

func (s sdkContainer) list(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	objs := []ObjectInfo{}
	pager := s.c.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{Prefix: &prefix})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			info := ObjectInfo{Key: *item.Name}
			if p := item.Properties; p != nil {
				if p.ContentLength != nil {
					info.Size = *p.ContentLength
				}
				if p.LastModified != nil {
					info.ModifiedAt = p.LastModified.UTC()
				}
			}
			objs = append(objs, info)
		}
	}
	return objs, nil
}

func (s sdkContainer) remove(ctx context.Context, name string) error {
	_, err := s.c.NewBlobClient(name).Delete(ctx, nil)
	return err
}
