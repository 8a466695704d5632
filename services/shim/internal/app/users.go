package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"mime"
	"net/url"
	"sort"
	"strings"

	"fieldsync/pkg/domain"
	"fieldsync/pkg/profile"
	"fieldsync/pkg/storage"
)

// Upload is one file received from a multipart form.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// ListUsers returns every stored profile in normalized form.
func (a *App) ListUsers(ctx context.Context) ([]domain.Profile, error) {
	children, err := a.db.Children(ctx, domain.RootUsers)
	if err != nil {
		return nil, domain.Upstream("list users", err)
	}
	out := make([]domain.Profile, 0, len(children))
	for _, child := range children {
		raw, err := decodeRaw(child.Value)
		if err != nil {
			a.log(ctx).Warn("skip malformed profile", "user_id", child.Key, "err", err)
			continue
		}
		out = append(out, profile.Normalize(child.Key, raw))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ProfileImageInput carries exactly one of a file, a base64 data URL or an
// existing http(s) URL.
type ProfileImageInput struct {
	File  *Upload
	Image string
}

// SetProfileImage stores the image and records its URL on the profile.
func (a *App) SetProfileImage(ctx context.Context, user domain.Profile, in ProfileImageInput) (domain.Profile, error) {
	var imageURL string
	switch {
	case in.File != nil:
		if !isImage(in.File.ContentType, in.File.Name) {
			return domain.Profile{}, domain.Validation("profile image must be an image")
		}
		u, err := a.blobs.Upload(ctx, storage.ObjectKey("profiles", user.ID, in.File.Name), in.File.Body, in.File.Size, in.File.ContentType)
		if err != nil {
			return domain.Profile{}, domain.Upstream("upload profile image", err)
		}
		imageURL = u
	case strings.HasPrefix(strings.TrimSpace(in.Image), "data:"):
		data, contentType, err := decodeDataURL(in.Image)
		if err != nil {
			return domain.Profile{}, err
		}
		name := "avatar" + extensionFor(contentType)
		u, err := a.blobs.Upload(ctx, storage.ObjectKey("profiles", user.ID, name), bytes.NewReader(data), int64(len(data)), contentType)
		if err != nil {
			return domain.Profile{}, domain.Upstream("upload profile image", err)
		}
		imageURL = u
	case strings.TrimSpace(in.Image) != "":
		parsed, err := url.Parse(strings.TrimSpace(in.Image))
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return domain.Profile{}, domain.Validation("profile_image must be a file, data URL or http(s) URL")
		}
		imageURL = parsed.String()
	default:
		return domain.Profile{}, domain.Validation("profile_image is required")
	}
	return a.patchProfile(ctx, user.ID, map[string]any{"profile_image": imageURL})
}

// UpdateProfile patches the editable profile fields. Other keys are
// ignored.
func (a *App) UpdateProfile(ctx context.Context, user domain.Profile, fields map[string]any) (domain.Profile, error) {
	patch := map[string]any{}
	for _, key := range []string{"name", "phone", "profile_image"} {
		v, ok := fields[key]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return domain.Profile{}, domain.Validation(key + " must be a string")
		}
		s = a.clean(s)
		if len(s) > 200 {
			return domain.Profile{}, domain.Validation(key + " is too long")
		}
		patch[key] = s
	}
	if len(patch) == 0 {
		return domain.Profile{}, domain.Validation("no editable fields supplied")
	}
	return a.patchProfile(ctx, user.ID, patch)
}

func (a *App) patchProfile(ctx context.Context, uid string, patch map[string]any) (domain.Profile, error) {
	ok, err := a.db.Update(ctx, domain.UserPath(uid), patch)
	if err != nil {
		return domain.Profile{}, domain.Upstream("update profile", err)
	}
	if !ok {
		return domain.Profile{}, domain.NotFound("Profile not found")
	}
	p, _, err := a.profiles.Load(ctx, uid)
	return p, err
}

func decodeDataURL(raw string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(strings.TrimSpace(raw), ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return nil, "", domain.Validation("image data URL must be base64 encoded")
	}
	contentType := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", domain.Validation("profile image must be an image")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", domain.Validation("image data URL is not valid base64")
	}
	if len(data) == 0 {
		return nil, "", domain.Validation("image is empty")
	}
	return data, contentType, nil
}

func isImage(contentType, name string) bool {
	if strings.HasPrefix(contentType, "image/") {
		return true
	}
	return strings.HasPrefix(mime.TypeByExtension(strings.ToLower(extOf(name))), "image/")
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
		return exts[0]
	}
	return ""
}

func extOf(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i:]
	}
	return ""
}
