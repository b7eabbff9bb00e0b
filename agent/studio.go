// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/creachadair/relay/dispatch"
	"github.com/creachadair/relay/handler"
)

// Method names serviced by a Studio.
const (
	MethodStudioInfo  = "get_studio_info"
	MethodSelection   = "get_selection"
	MethodSetMetadata = "set_metadata"
)

// Labels accepted by set_metadata. LabelNone clears the label.
var Labels = []string{"red", "yellow", "green", "blue", "purple", "none"}

// LabelNone is the label value that clears the color label of a photo.
const LabelNone = "none"

// A Photo is a single catalog entry.
type Photo struct {
	ID       int    `json:"id"`
	Filename string `json:"filename"`
	Rating   int    `json:"rating"`
	Label    string `json:"label,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// StudioInfo describes the active catalog.
type StudioInfo struct {
	CatalogName string `json:"catalog_name"`
	CatalogPath string `json:"catalog_path"`
	Version     string `json:"plugin_version"`
	Photos      int    `json:"photos"`
}

// Selection is the result of get_selection.
type Selection struct {
	Count  int     `json:"count"`
	Photos []Photo `json:"photos"`
}

// MetadataUpdate is the parameter of set_metadata. Fields that are nil are
// not changed.
type MetadataUpdate struct {
	Rating  *int    `json:"rating,omitempty"`
	Label   *string `json:"label,omitempty"`
	Caption *string `json:"caption,omitempty"`
}

// Validate implements the handler.Validator interface.
func (m MetadataUpdate) Validate() error {
	if m.Rating == nil && m.Label == nil && m.Caption == nil {
		return errors.New("no metadata fields specified")
	}
	if m.Rating != nil && (*m.Rating < 0 || *m.Rating > 5) {
		return fmt.Errorf("rating %d is not between 0 and 5", *m.Rating)
	}
	if m.Label != nil && !slices.Contains(Labels, *m.Label) {
		return fmt.Errorf("unknown label %q (want one of %s)", *m.Label, strings.Join(Labels, ", "))
	}
	return nil
}

// UpdateResult is the result of set_metadata.
type UpdateResult struct {
	Updated int `json:"updated"`
}

// ErrNoSelection is reported by set_metadata when no photos are selected.
var ErrNoSelection = errors.New("no photos selected")

// A Studio is an in-memory photo catalog with a current selection. It
// services the catalog commands of a peer, and is safe for concurrent use.
type Studio struct {
	info StudioInfo

	μ        sync.Mutex
	photos   []Photo
	selected []int // indexes into photos
}

// NewStudio constructs a Studio for the named catalog containing photos.
func NewStudio(name, path string, photos ...Photo) *Studio {
	return &Studio{
		info:   StudioInfo{CatalogName: name, CatalogPath: path, Version: "1.0"},
		photos: slices.Clone(photos),
	}
}

// Select sets the current selection to the photos with the given IDs.
// Unknown IDs are ignored.
func (s *Studio) Select(ids ...int) {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.selected = s.selected[:0]
	for i, p := range s.photos {
		if slices.Contains(ids, p.ID) {
			s.selected = append(s.selected, i)
		}
	}
}

// Photos returns a copy of all the photos in the catalog.
func (s *Studio) Photos() []Photo {
	s.μ.Lock()
	defer s.μ.Unlock()
	return slices.Clone(s.photos)
}

// Register adds the studio commands to tab, and returns tab.
func (s *Studio) Register(tab *dispatch.Table) *dispatch.Table {
	return tab.
		Handle(MethodStudioInfo, handler.ResultError(s.studioInfo)).
		Handle(MethodSelection, handler.ResultError(s.selection)).
		Handle(MethodSetMetadata, handler.ParamResultError(s.setMetadata))
}

func (s *Studio) studioInfo(context.Context) (StudioInfo, error) {
	s.μ.Lock()
	defer s.μ.Unlock()
	info := s.info
	info.Photos = len(s.photos)
	return info, nil
}

func (s *Studio) selection(context.Context) (Selection, error) {
	s.μ.Lock()
	defer s.μ.Unlock()
	sel := Selection{Count: len(s.selected), Photos: make([]Photo, 0, len(s.selected))}
	for _, i := range s.selected {
		sel.Photos = append(sel.Photos, s.photos[i])
	}
	return sel, nil
}

func (s *Studio) setMetadata(ctx context.Context, m MetadataUpdate) (UpdateResult, error) {
	s.μ.Lock()
	defer s.μ.Unlock()
	if len(s.selected) == 0 {
		return UpdateResult{}, ErrNoSelection
	}
	for _, i := range s.selected {
		p := &s.photos[i]
		if m.Rating != nil {
			p.Rating = *m.Rating
		}
		if m.Label != nil {
			p.Label = *m.Label
			if p.Label == LabelNone {
				p.Label = ""
			}
		}
		if m.Caption != nil {
			p.Caption = *m.Caption
		}
	}
	return UpdateResult{Updated: len(s.selected)}, nil
}
