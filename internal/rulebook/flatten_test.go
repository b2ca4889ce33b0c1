package rulebook

import (
	"reflect"
	"testing"
)

func TestFlattenAssignsPreOrderIDs(t *testing.T) {
	root := Segment("Rulebook", sampleDoc, 0)
	records, nextID := Flatten(1, nil, root)

	if len(records) != 6 {
		t.Fatalf("expected 6 records, got %d", len(records))
	}
	if nextID != 7 {
		t.Fatalf("expected next id 7, got %d", nextID)
	}

	titles := make(map[int]string, len(records))
	for _, record := range records {
		titles[record.ID] = record.Title
	}
	want := map[int]string{
		1: "Rulebook",
		2: "Combat",
		3: "Initiative",
		4: "Attacks",
		5: "Critical Hits",
		6: "Exploration",
	}
	if !reflect.DeepEqual(titles, want) {
		t.Fatalf("unexpected id assignment: %v", titles)
	}

	if !reflect.DeepEqual(records[0].ChildIDs, []int{2, 6}) {
		t.Fatalf("unexpected root child ids: %v", records[0].ChildIDs)
	}
	if !reflect.DeepEqual(records[1].ChildIDs, []int{3, 4}) {
		t.Fatalf("unexpected combat child ids: %v", records[1].ChildIDs)
	}
}

func TestFlattenChildIDsGreaterThanAncestors(t *testing.T) {
	root := Segment("Rulebook", sampleDoc, 0)
	records, _ := Flatten(1, nil, root)

	byID := make(map[int]Rule, len(records))
	for _, record := range records {
		byID[record.ID] = record
	}
	for _, record := range records {
		for _, childID := range record.ChildIDs {
			if childID <= record.ID {
				t.Fatalf("child id %d not greater than parent id %d", childID, record.ID)
			}
			if _, ok := byID[childID]; !ok {
				t.Fatalf("child id %d has no record", childID)
			}
		}
	}
}

func TestFlattenSubtreeIDsContiguous(t *testing.T) {
	root := Segment("Rulebook", sampleDoc, 0)
	records, _ := Flatten(1, nil, root)

	byID := make(map[int]Rule, len(records))
	for _, record := range records {
		byID[record.ID] = record
	}

	var subtreeSize func(id int) int
	subtreeSize = func(id int) int {
		size := 1
		for _, childID := range byID[id].ChildIDs {
			size += subtreeSize(childID)
		}
		return size
	}

	for _, record := range records {
		size := subtreeSize(record.ID)
		for offset := range size {
			if _, ok := byID[record.ID+offset]; !ok {
				t.Fatalf("subtree of %d is not a contiguous id run (missing %d)", record.ID, record.ID+offset)
			}
		}
	}
}

func TestFlattenIdempotent(t *testing.T) {
	first, firstNext := Flatten(1, nil, Segment("T", sampleDoc, 0))
	second, secondNext := Flatten(1, nil, Segment("T", sampleDoc, 0))

	if firstNext != secondNext {
		t.Fatalf("expected identical id cursor, got %d vs %d", firstNext, secondNext)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("expected identical records across runs")
	}
}

func TestFlattenCategoryPath(t *testing.T) {
	root := Segment("Rulebook", sampleDoc, 0)
	records, _ := Flatten(1, nil, root)

	var critical Rule
	for _, record := range records {
		if record.Title == "Critical Hits" {
			critical = record
		}
	}
	want := []string{"Rulebook", "Combat", "Attacks", "Critical Hits"}
	if !reflect.DeepEqual(critical.CategoryPath, want) {
		t.Fatalf("unexpected category path: %v", critical.CategoryPath)
	}
}

func TestFlattenStartIDOffset(t *testing.T) {
	records, nextID := Flatten(100, []string{"Corpus"}, Segment("T", "just prose", 0))
	if len(records) != 1 || records[0].ID != 100 || nextID != 101 {
		t.Fatalf("unexpected offset flatten: %+v next=%d", records, nextID)
	}
	if !reflect.DeepEqual(records[0].CategoryPath, []string{"Corpus", "T"}) {
		t.Fatalf("unexpected ancestor path: %v", records[0].CategoryPath)
	}
}
