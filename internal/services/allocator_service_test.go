package services

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/formatlab/annoserve/internal/models"
)

type stubAllocatorStore struct {
	prompts      []*models.Prompt
	withinCount  int
	annCount     map[string]int
	annotatedIDs map[string][]string
}

func newStubAllocatorStore(nPrompts int) *stubAllocatorStore {
	s := &stubAllocatorStore{
		annCount:     map[string]int{},
		annotatedIDs: map[string][]string{},
	}
	for i := 0; i < nPrompts; i++ {
		s.prompts = append(s.prompts, &models.Prompt{
			ID:   fmt.Sprintf("pr%03d", i),
			Text: fmt.Sprintf("prompt %d", i),
		})
	}
	return s
}

// SamplePrompts is deterministic here: pool order with exclusions applied.
func (s *stubAllocatorStore) SamplePrompts(_ string, n int, exclude []string) ([]*models.Prompt, error) {
	excluded := map[string]bool{}
	for _, id := range exclude {
		excluded[id] = true
	}
	var out []*models.Prompt
	for _, p := range s.prompts {
		if excluded[p.ID] {
			continue
		}
		out = append(out, p)
		if len(out) == n {
			break
		}
	}
	return out, nil
}

func (s *stubAllocatorStore) CountParticipantsByDesign(string, string) (int, error) {
	return s.withinCount, nil
}

func (s *stubAllocatorStore) CountAnnotationsByParticipant(id string) (int, error) {
	return s.annCount[id], nil
}

func (s *stubAllocatorStore) ListAnnotatedPromptIDs(id string) ([]string, error) {
	return s.annotatedIDs[id], nil
}

type fixedAllocConfig struct {
	formats   []string
	perFormat int
}

func (c fixedAllocConfig) FormatsEnabled(string) ([]string, error) { return c.formats, nil }
func (c fixedAllocConfig) AnnotationsPerFormat(string) (int, error) {
	return c.perFormat, nil
}

func TestBuildAssignmentsShape(t *testing.T) {
	store := newStubAllocatorStore(50)
	svc := NewAllocatorService(store, fixedAllocConfig{formats: []string{"highlight", "dropdown"}, perFormat: 5})

	tasks, err := svc.BuildAssignments("exp1", "part1")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(tasks) != 10 {
		t.Fatalf("expected 10 tasks, got %d", len(tasks))
	}
	seen := map[string]bool{}
	for i, task := range tasks {
		if task.Position != i+1 {
			t.Fatalf("task %d has position %d", i, task.Position)
		}
		if task.Status != models.AssignmentPending {
			t.Fatalf("task %d not pending", i)
		}
		if seen[task.PromptID] {
			t.Fatalf("prompt %s assigned twice", task.PromptID)
		}
		seen[task.PromptID] = true
	}
	// Contiguous blocks: first 5 one format, last 5 the other.
	for i := 1; i < 5; i++ {
		if tasks[i].Format != tasks[0].Format {
			t.Fatalf("first block mixes formats at %d", i)
		}
		if tasks[5+i].Format != tasks[5].Format {
			t.Fatalf("second block mixes formats at %d", 5+i)
		}
	}
	if tasks[0].Format == tasks[5].Format {
		t.Fatal("both blocks carry the same format")
	}
}

func TestBuildAssignmentsCounterbalancesBlockOrder(t *testing.T) {
	store := newStubAllocatorStore(50)
	svc := NewAllocatorService(store, fixedAllocConfig{formats: []string{"a", "b"}, perFormat: 2})

	firstFormats := make([]string, 4)
	for k := 0; k < 4; k++ {
		store.withinCount = k
		tasks, err := svc.BuildAssignments("exp1", fmt.Sprintf("part%d", k))
		if err != nil {
			t.Fatalf("build %d: %v", k, err)
		}
		firstFormats[k] = tasks[0].Format
	}
	// Two formats have 2! = 2 permutations, cycled by participant index.
	want := []string{"a", "b", "a", "b"}
	if !reflect.DeepEqual(firstFormats, want) {
		t.Fatalf("expected block order cycle %v, got %v", want, firstFormats)
	}
}

func TestBuildAssignmentsPoolExhausted(t *testing.T) {
	store := newStubAllocatorStore(7)
	svc := NewAllocatorService(store, fixedAllocConfig{formats: []string{"a", "b"}, perFormat: 4})

	_, err := svc.BuildAssignments("exp1", "part1")
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorPoolExhausted {
		t.Fatalf("expected pool_exhausted, got %v", err)
	}
}

func TestSelectPromptSkipsAnnotated(t *testing.T) {
	store := newStubAllocatorStore(3)
	store.annotatedIDs["part1"] = []string{"pr000", "pr001"}
	store.annCount["part1"] = 2
	svc := NewAllocatorService(store, fixedAllocConfig{formats: []string{"a"}, perFormat: 5})

	p, err := svc.SelectPrompt("exp1", "part1")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if p == nil || p.ID != "pr002" {
		t.Fatalf("expected pr002, got %+v", p)
	}
}

func TestSelectPromptStopsAtCap(t *testing.T) {
	store := newStubAllocatorStore(10)
	store.annCount["part1"] = 5
	svc := NewAllocatorService(store, fixedAllocConfig{formats: []string{"a"}, perFormat: 5})

	p, err := svc.SelectPrompt("exp1", "part1")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if p != nil {
		t.Fatalf("expected done signal at cap, got %+v", p)
	}
}

func TestSelectPromptStopsWhenPoolDry(t *testing.T) {
	store := newStubAllocatorStore(2)
	store.annotatedIDs["part1"] = []string{"pr000", "pr001"}
	store.annCount["part1"] = 2
	svc := NewAllocatorService(store, fixedAllocConfig{formats: []string{"a"}, perFormat: 10})

	p, err := svc.SelectPrompt("exp1", "part1")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if p != nil {
		t.Fatalf("expected done signal on dry pool, got %+v", p)
	}
}

func TestFormatOrdersEnumeratesPermutations(t *testing.T) {
	orders := formatOrders([]string{"a", "b", "c"})
	if len(orders) != 6 {
		t.Fatalf("expected 6 permutations, got %d", len(orders))
	}
	if !reflect.DeepEqual(orders[0], []string{"a", "b", "c"}) {
		t.Fatalf("expected identity first, got %v", orders[0])
	}
	uniq := map[string]bool{}
	for _, o := range orders {
		key := fmt.Sprint(o)
		if uniq[key] {
			t.Fatalf("duplicate permutation %v", o)
		}
		uniq[key] = true
	}
}
