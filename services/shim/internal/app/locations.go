package app

import (
	"context"
	"slices"
	"strings"

	"fieldsync/pkg/domain"
	"fieldsync/pkg/store"
)

// LocationInput is the location.php POST body.
type LocationInput struct {
	Latitude     float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude    float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Accuracy     float64 `json:"accuracy" validate:"gte=0"`
	LocationName string  `json:"location_name" validate:"max=500"`
}

// ReportLocation overwrites the caller's single current location row.
func (a *App) ReportLocation(ctx context.Context, user domain.Profile, in LocationInput) (domain.LocationReport, error) {
	if err := a.check(in); err != nil {
		return domain.LocationReport{}, err
	}
	name := a.clean(in.LocationName)
	if name == "" {
		name = "Unknown Location"
	}
	report := domain.LocationReport{
		UserID:       user.ID,
		Latitude:     in.Latitude,
		Longitude:    in.Longitude,
		Accuracy:     in.Accuracy,
		LocationName: name,
		UpdatedAt:    a.now().UTC(),
	}
	if err := a.db.Set(ctx, domain.LocationPath(user.ID), report); err != nil {
		return domain.LocationReport{}, domain.Upstream("report location", err)
	}
	return report, nil
}

// ListLocations returns everyone's location for userID "all" (admins only)
// or one user's. Non-admins may only read their own.
func (a *App) ListLocations(ctx context.Context, viewer domain.Profile, userID string) ([]domain.LocationReport, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = viewer.ID
	}
	if userID == "all" {
		if err := requireAdmin(viewer); err != nil {
			return nil, err
		}
		list, err := store.ListAs[domain.LocationReport](ctx, a.db, domain.RootLocations)
		if err != nil {
			return nil, domain.Upstream("list locations", err)
		}
		slices.SortStableFunc(list, func(x, y domain.LocationReport) int { return y.UpdatedAt.Compare(x.UpdatedAt) })
		return list, nil
	}
	if userID != viewer.ID && !viewer.IsAdmin() {
		return nil, domain.Forbidden("Admin access required")
	}
	report, ok, err := store.GetAs[domain.LocationReport](ctx, a.db, domain.LocationPath(userID))
	if err != nil {
		return nil, domain.Upstream("load location", err)
	}
	if !ok {
		return []domain.LocationReport{}, nil
	}
	return []domain.LocationReport{report}, nil
}
