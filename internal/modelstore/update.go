package modelstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// UpdateKind classifies the outcome of an update check.
type UpdateKind int

const (
	UpToDate UpdateKind = iota
	UpdateAvailable
	Unreachable
	UpdateCorrupted
)

// UpdateStatus is the result of comparing an installation with the latest
// published version.
type UpdateStatus struct {
	Kind    UpdateKind
	Latest  string
	Current string
	Err     error
}

func (u UpdateStatus) String() string {
	switch u.Kind {
	case UpToDate:
		return "No updates available"
	case UpdateAvailable:
		return "New version available: " + u.Latest
	case Unreachable:
		return "Version source cannot be reached"
	default:
		return "Installation is corrupted"
	}
}

// VersionSource reports the latest published model version for a mode.
type VersionSource interface {
	LatestVersion(ctx context.Context, mode string) (string, error)
}

// CheckUpdate compares inst with the latest version from src.
func CheckUpdate(ctx context.Context, inst Installation, src VersionSource) UpdateStatus {
	status := UpdateStatus{Current: inst.Version}
	if src == nil {
		status.Kind = Unreachable
		return status
	}
	latest, err := src.LatestVersion(ctx, inst.Mode)
	if err != nil {
		status.Kind = Unreachable
		status.Err = err
		return status
	}
	status.Latest = latest
	switch {
	case inst.State == Corrupted:
		status.Kind = UpdateCorrupted
	case inst.State == Installed && inst.Version == latest:
		status.Kind = UpToDate
	default:
		status.Kind = UpdateAvailable
	}
	return status
}

// FileVersionSource reads versions from a JSON document mapping mode names
// to versions, the format the model repository publishes.
type FileVersionSource struct {
	Path string
}

func (f FileVersionSource) LatestVersion(_ context.Context, mode string) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", err
	}
	var versions map[string]string
	if err := json.Unmarshal(data, &versions); err != nil {
		return "", fmt.Errorf("parse %s: %w", f.Path, err)
	}
	v, ok := versions[mode]
	if !ok {
		return "", fmt.Errorf("%s has no version for mode %s", f.Path, mode)
	}
	return v, nil
}
