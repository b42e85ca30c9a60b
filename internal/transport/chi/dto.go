package chi

import (
	"encoding/json"
	"fmt"

	domidx "github.com/docdex/docdex/internal/domain/index"
	domjob "github.com/docdex/docdex/internal/domain/job"
	"github.com/docdex/docdex/internal/domain/mapping"
	colrepo "github.com/docdex/docdex/internal/repository/collection"
	"github.com/docdex/docdex/internal/search"
	indexuc "github.com/docdex/docdex/internal/usecase/index"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type collectionPayload struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type collectionDetailPayload struct {
	collectionPayload
	Indices []indexPayload `json:"indices"`
}

type createCollectionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type batchUploadRequest struct {
	BatchID   string            `json:"batch_id"`
	Documents []json.RawMessage `json:"documents"`
}

type batchUploadResponse struct {
	BatchID  string `json:"batch_id"`
	Accepted int    `json:"accepted"`
}

type propertyPayload struct {
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Required bool            `json:"required,omitempty"`
	IDPart   bool            `json:"id_part,omitempty"`
	Alias    string          `json:"alias,omitempty"`
	Restrict json.RawMessage `json:"restrict,omitempty"`
	State    string          `json:"state,omitempty"`
}

type indexPayload struct {
	ID           int64             `json:"id"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	PhysicalName string            `json:"physical_name,omitempty"`
	Status       string            `json:"status"`
	CollectionID int64             `json:"collection_id"`
	AutoAppend   bool              `json:"auto_append"`
	Properties   []propertyPayload `json:"properties,omitempty"`
}

type createIndexRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Collection  string            `json:"collection"`
	AutoAppend  bool              `json:"auto_append"`
	Properties  []propertyPayload `json:"properties"`
}

type updateIndexRequest struct {
	Description *string           `json:"description"`
	Properties  []propertyPayload `json:"properties"`
}

type searchRequest struct {
	Query json.RawMessage `json:"query"`
	Limit int             `json:"limit"`
}

type documentPayload struct {
	Index  string          `json:"index"`
	ID     string          `json:"id"`
	Source json.RawMessage `json:"source"`
}

type searchResponse struct {
	Hits []documentPayload `json:"hits"`
}

type jobPayload struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt int64           `json:"created_at"`
	UpdatedAt int64           `json:"updated_at"`
	Logs      []jobLogPayload `json:"logs,omitempty"`
}

type jobLogPayload struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	CreatedAt int64  `json:"created_at"`
}

func collectionToPayload(rec colrepo.Record) collectionPayload {
	return collectionPayload{ID: rec.ID, Name: rec.Name, Description: rec.Description}
}

func propertyToPayload(p mapping.Property) propertyPayload {
	return propertyPayload{
		Name:     p.Name(),
		Type:     string(p.PropType()),
		Required: p.Required(),
		IDPart:   p.IDPart(),
		Alias:    p.Alias(),
		Restrict: p.Restrict(),
		State:    string(p.PropState()),
	}
}

func propertyFromPayload(in propertyPayload) (mapping.Property, error) {
	p, err := mapping.NewProperty(in.Name, mapping.Type(in.Type))
	if err != nil {
		return mapping.Property{}, err
	}
	p = p.WithRequired(in.Required).WithIDPart(in.IDPart)
	if in.Alias != "" {
		p = p.WithAlias(in.Alias)
	}
	if len(in.Restrict) > 0 {
		p = p.WithRestrict(in.Restrict)
	}
	switch mapping.State(in.State) {
	case "", mapping.StateActive:
	case mapping.StateRetired:
		p = p.Retired()
	default:
		return mapping.Property{}, fmt.Errorf("invalid property state %q", in.State)
	}
	return p, nil
}

func propertiesFromPayload(in []propertyPayload) ([]mapping.Property, error) {
	if in == nil {
		return nil, nil
	}
	props := make([]mapping.Property, 0, len(in))
	for _, pp := range in {
		p, err := propertyFromPayload(pp)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", pp.Name, err)
		}
		props = append(props, p)
	}
	return props, nil
}

func indexToPayload(v indexuc.View) indexPayload {
	props := make([]propertyPayload, 0, len(v.Properties))
	for _, p := range v.Properties {
		props = append(props, propertyToPayload(p))
	}
	return indexPayload{
		ID:           v.Index.ID(),
		Name:         v.Index.Name(),
		Description:  v.Index.Description(),
		PhysicalName: v.Index.PhysicalName(),
		Status:       string(v.Index.Status()),
		CollectionID: v.Index.CollectionID(),
		AutoAppend:   v.Index.AutoAppend(),
		Properties:   props,
	}
}

func statusOnly(idx domidx.Index) indexPayload {
	return indexPayload{
		ID:           idx.ID(),
		Name:         idx.Name(),
		PhysicalName: idx.PhysicalName(),
		Status:       string(idx.Status()),
		CollectionID: idx.CollectionID(),
		AutoAppend:   idx.AutoAppend(),
	}
}

func jobToPayload(j domjob.Job, logs []domjob.LogEntry) jobPayload {
	out := jobPayload{
		ID:        j.ID(),
		Type:      string(j.JobType()),
		Status:    string(j.JobStatus()),
		Payload:   j.Payload(),
		CreatedAt: j.CreatedAt(),
		UpdatedAt: j.UpdatedAt(),
	}
	for _, l := range logs {
		out.Logs = append(out.Logs, jobLogPayload{
			Level:     string(l.Level),
			Message:   l.Message,
			CreatedAt: l.CreatedAt,
		})
	}
	return out
}

func documentToPayload(d search.Document) documentPayload {
	return documentPayload{Index: d.Index, ID: d.ID, Source: d.Source}
}
