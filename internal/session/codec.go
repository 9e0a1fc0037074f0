// internal/session/codec.go
package session

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ideagraph/api/schemas"
	"github.com/xkilldash9x/ideagraph/internal/config"
	"github.com/xkilldash9x/ideagraph/internal/creativity"
	"github.com/xkilldash9x/ideagraph/internal/layout"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ToDocument captures the full session state.
func (s *Session) ToDocument() schemas.SessionDocument {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := schemas.SessionDocument{
		Version:              schemas.DocumentVersion,
		SessionID:            s.id,
		Nodes:                s.graph.Nodes(),
		Reflections:          s.graph.Reflections(),
		CreativityHistory:    s.history.Entries(),
		EditCount:            s.editCount,
		AIGenerationCount:    s.aiGenerationCount,
		HierarchyAnalysis:    cloneAnalysis(s.analysis),
		StructureReflections: append([]schemas.Reflection{}, s.structureReflections...),
		CurrentStep:          s.currentStep,
		DesignTopic:          s.designTopic,
		LayoutMode:           s.mode,
		GridPositions:        s.grid.Positions(),
		UpdatedAt:            s.now(),
	}
	if s.topicNodeID != nil {
		id := *s.topicNodeID
		doc.TopicNodeID = &id
	}
	if doc.Reflections == nil {
		doc.Reflections = []schemas.Reflection{}
	}
	if doc.CreativityHistory == nil {
		doc.CreativityHistory = []schemas.MetricsSnapshot{}
	}
	return doc
}

// FromDocument rebuilds a session. The graph validates ids, parents and
// acyclicity; a topic id that does not name a topic node is rejected.
func FromDocument(doc schemas.SessionDocument, cfg config.LayoutConfig, logger *zap.Logger) (*Session, error) {
	if doc.Version > schemas.DocumentVersion {
		return nil, fmt.Errorf("unsupported session document version %d", doc.Version)
	}

	s := New(doc.SessionID, cfg, logger)
	if err := s.graph.Restore(doc.Nodes, doc.Reflections); err != nil {
		return nil, fmt.Errorf("failed to restore session '%s': %w", s.id, err)
	}
	if doc.TopicNodeID != nil {
		n, ok := s.graph.Node(*doc.TopicNodeID)
		if !ok || n.Type != schemas.NodeTypeTopic {
			return nil, fmt.Errorf("topicNodeId '%d' does not name a topic node", *doc.TopicNodeID)
		}
		id := *doc.TopicNodeID
		s.topicNodeID = &id
	}

	s.history = creativity.NewHistory(doc.CreativityHistory)
	s.editCount = doc.EditCount
	s.aiGenerationCount = doc.AIGenerationCount
	s.analysis = cloneAnalysis(doc.HierarchyAnalysis)
	s.structureReflections = append([]schemas.Reflection(nil), doc.StructureReflections...)
	s.currentStep = doc.CurrentStep
	s.designTopic = doc.DesignTopic
	s.grid = layout.NewGridState(doc.GridPositions)
	if doc.LayoutMode != "" {
		s.mode = doc.LayoutMode
	}
	return s, nil
}

// Marshal encodes the session document.
func (s *Session) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(s.ToDocument(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode session '%s': %w", s.id, err)
	}
	return data, nil
}

// Unmarshal decodes a session document and rebuilds the session.
func Unmarshal(data []byte, cfg config.LayoutConfig, logger *zap.Logger) (*Session, error) {
	var doc schemas.SessionDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode session document: %w", err)
	}
	return FromDocument(doc, cfg, logger)
}
