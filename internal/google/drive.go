package google

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gitlab.com/yelinaung/receipt-tracker/internal/logger"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

const folderMimeType = "application/vnd.google-apps.folder"

// Locker serializes find-or-create sequences for one user.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// ImageFetcher downloads the image to upload.
type ImageFetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, string, error)
}

// DriveUpload describes one image to copy into the user's Drive.
type DriveUpload struct {
	ImageURL    string
	FileName    string
	AccessToken string
	FolderName  string
	// UserID is optional. When set it enables token refresh and per-user
	// locking of the folder lookup.
	UserID string
}

// DriveResult locates an uploaded file and its folder.
type DriveResult struct {
	FileID      string
	WebViewLink string
	FolderID    string
	FolderLink  string
	FolderName  string
}

// DriveClient uploads receipt images into a named folder of the user's Drive.
type DriveClient struct {
	services      *ServiceFactory
	refresher     Refresher
	locker        Locker
	fetcher       ImageFetcher
	defaultFolder string
}

// NewDriveClient creates a DriveClient. locker may be nil.
func NewDriveClient(services *ServiceFactory, refresher Refresher, locker Locker, fetcher ImageFetcher, defaultFolder string) *DriveClient {
	return &DriveClient{
		services:      services,
		refresher:     refresher,
		locker:        locker,
		fetcher:       fetcher,
		defaultFolder: defaultFolder,
	}
}

// Session creates a Session using the client's refresher.
func (c *DriveClient) Session(accessToken string, userID uuid.UUID) *Session {
	return NewSession(accessToken, userID, c.refresher)
}

// FolderLink returns the browser link of a Drive folder.
func FolderLink(folderID string) string {
	return "https://drive.google.com/drive/folders/" + folderID
}

// Validate checks the request without touching the network.
func (c *DriveClient) Validate(in *DriveUpload) (uuid.UUID, error) {
	if strings.TrimSpace(in.FolderName) == "" {
		in.FolderName = c.defaultFolder
	}
	if err := ValidateFileName(in.FileName); err != nil {
		return uuid.Nil, err
	}
	if err := ValidateFolderName(in.FolderName); err != nil {
		return uuid.Nil, err
	}
	if err := validateImageURL(in.ImageURL); err != nil {
		return uuid.Nil, err
	}
	if in.AccessToken == "" {
		return uuid.Nil, invalidInput("access token is required")
	}
	return ParseUserID(in.UserID)
}

// Upload copies the image at in.ImageURL into the folder named
// in.FolderName under the Drive root, creating the folder if needed.
func (c *DriveClient) Upload(ctx context.Context, in DriveUpload) (*DriveResult, error) {
	userID, err := c.Validate(&in)
	if err != nil {
		return nil, err
	}

	data, contentType, err := c.fetcher.Fetch(ctx, in.ImageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}

	sess := NewSession(in.AccessToken, userID, c.refresher)

	folderID, err := c.EnsureFolder(ctx, sess, in.FolderName)
	if err != nil {
		return nil, err
	}

	file, err := withRefresh(ctx, sess, func(token string) (*drive.File, error) {
		svc, err := c.services.Drive(ctx, token)
		if err != nil {
			return nil, err
		}
		return svc.Files.Create(&drive.File{
			Name:    in.FileName,
			Parents: []string{folderID},
		}).
			Media(bytes.NewReader(data), googleapi.ContentType(contentType)).
			Fields("id", "webViewLink").
			Context(ctx).
			Do()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload file to drive: %w", err)
	}

	logger.Log.Info().
		Str("user_hash", logger.HashUserID(in.UserID)).
		Str("file_id", file.Id).
		Int("bytes", len(data)).
		Msg("Uploaded receipt to Drive")

	return &DriveResult{
		FileID:      file.Id,
		WebViewLink: file.WebViewLink,
		FolderID:    folderID,
		FolderLink:  FolderLink(folderID),
		FolderName:  in.FolderName,
	}, nil
}

// EnsureFolder returns the id of the first folder named name directly under
// the Drive root, creating it when absent. With a user id on the session the
// lookup and creation run under that user's lock.
func (c *DriveClient) EnsureFolder(ctx context.Context, sess *Session, name string) (string, error) {
	var folderID string
	find := func(ctx context.Context) error {
		id, err := c.findOrCreateFolder(ctx, sess, name)
		folderID = id
		return err
	}

	if c.locker != nil && sess.userID != uuid.Nil {
		if err := c.locker.WithLock(ctx, "drive-folder:"+sess.userID.String(), find); err != nil {
			return "", err
		}
		return folderID, nil
	}
	if err := find(ctx); err != nil {
		return "", err
	}
	return folderID, nil
}

func (c *DriveClient) findOrCreateFolder(ctx context.Context, sess *Session, name string) (string, error) {
	query := fmt.Sprintf("mimeType = '%s' and name = '%s' and 'root' in parents and trashed = false",
		folderMimeType, escapeQuery(name))

	list, err := withRefresh(ctx, sess, func(token string) (*drive.FileList, error) {
		svc, err := c.services.Drive(ctx, token)
		if err != nil {
			return nil, err
		}
		return svc.Files.List().
			Q(query).
			Spaces("drive").
			OrderBy("createdTime").
			PageSize(1).
			Fields("files(id, name)").
			Context(ctx).
			Do()
	})
	if err != nil {
		return "", fmt.Errorf("failed to search drive folder: %w", err)
	}
	if len(list.Files) > 0 {
		return list.Files[0].Id, nil
	}

	folder, err := withRefresh(ctx, sess, func(token string) (*drive.File, error) {
		svc, err := c.services.Drive(ctx, token)
		if err != nil {
			return nil, err
		}
		return svc.Files.Create(&drive.File{
			Name:     name,
			MimeType: folderMimeType,
			Parents:  []string{"root"},
		}).Fields("id").Context(ctx).Do()
	})
	if err != nil {
		return "", fmt.Errorf("failed to create drive folder: %w", err)
	}

	logger.Log.Info().Str("folder_id", folder.Id).Msg("Created Drive folder")
	return folder.Id, nil
}

// escapeQuery quotes a value for a Drive search query string literal.
func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
