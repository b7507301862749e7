package knowledge_test

import (
	"errors"
	"strings"
	"testing"

	knowledgespec "github.com/bdobrica/Kioku/common/spec/knowledge"
)

const validPack = `
apiVersion: kioku/v1
character:
  id: dr_python
  name: Dr. Python
  persona: |
    You are Dr. Python, a patient programming tutor.
  greeting: 안녕하세요! 오늘은 Python 변수에 대해 이야기해 볼까요?
knowledge:
  - id: py_var
    title: Python 변수와 데이터 타입
    content: 변수는 값을 저장하는 이름입니다.
    keywords: [변수, variable]
    category: basics
  - title: 반복문
    content: for 문은 시퀀스를 순회합니다.
    keywords: [반복, loop]
    tags: [control-flow]
    category: basics
    priority: 2
`

func TestParse_Valid(t *testing.T) {
	p, err := knowledgespec.Parse([]byte(validPack))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Character.ID != "dr_python" {
		t.Errorf("character id: got %q", p.Character.ID)
	}
	if len(p.Knowledge) != 2 {
		t.Fatalf("expected 2 items, got %d", len(p.Knowledge))
	}
	for i, item := range p.Knowledge {
		if item.CharacterID != "dr_python" {
			t.Errorf("item %d: character id not defaulted, got %q", i, item.CharacterID)
		}
	}
	if p.Knowledge[1].Priority == nil || *p.Knowledge[1].Priority != 2 {
		t.Errorf("priority not decoded: %v", p.Knowledge[1].Priority)
	}
}

func TestParse_WrongVersion(t *testing.T) {
	doc := strings.Replace(validPack, "kioku/v1", "kioku/v0", 1)
	_, err := knowledgespec.Parse([]byte(doc))
	var ve *knowledgespec.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Field != "apiVersion" {
		t.Errorf("field: got %q", ve.Field)
	}
}

func TestParse_DuplicateIDs(t *testing.T) {
	doc := validPack + `
  - id: py_var
    title: duplicate
    content: dup
    category: basics
`
	if _, err := knowledgespec.Parse([]byte(doc)); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func TestValidateItem(t *testing.T) {
	prio := -1
	tests := []struct {
		name    string
		item    knowledgespec.Item
		wantErr bool
	}{
		{
			name: "valid",
			item: knowledgespec.Item{Title: "유관순", Content: "독립운동가", Category: "people", Keywords: []string{"유관순"}},
		},
		{
			name:    "empty title",
			item:    knowledgespec.Item{Title: "", Content: "x", Category: "c"},
			wantErr: true,
		},
		{
			name:    "whitespace content",
			item:    knowledgespec.Item{Title: "t", Content: "   ", Category: "c"},
			wantErr: true,
		},
		{
			name:    "empty keyword",
			item:    knowledgespec.Item{Title: "t", Content: "c", Category: "c", Keywords: []string{"ok", ""}},
			wantErr: true,
		},
		{
			name:    "negative priority",
			item:    knowledgespec.Item{Title: "t", Content: "c", Category: "c", Priority: &prio},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := knowledgespec.ValidateItem(tt.item)
			if tt.wantErr {
				var ve *knowledgespec.ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
