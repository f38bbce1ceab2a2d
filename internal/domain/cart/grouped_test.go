package cart

import (
	"reflect"
	"testing"
)

func group231() []Line {
	return []Line{
		line("l1", "p1", 2, VariantSelection{Color: "red"}),
		line("l2", "p1", 3, VariantSelection{Color: "blue"}),
		line("l3", "p1", 1, VariantSelection{Color: "green"}),
	}
}

func TestGroupAdjustNoop(t *testing.T) {
	if got := GroupAdjust(group231(), 6); got != nil {
		t.Fatalf("expected nil deltas for unchanged total, got %+v", got)
	}
	if got := GroupAdjust(nil, 5); got != nil {
		t.Fatalf("expected nil deltas for empty group, got %+v", got)
	}
}

func TestGroupAdjustIncreaseGoesToFirstLine(t *testing.T) {
	got := GroupAdjust(group231(), 10)
	want := []LineDelta{{LineID: "l1", Kind: DeltaSetQuantity, NewQuantity: 6}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("increase deltas = %+v, want %+v", got, want)
	}
}

func TestGroupAdjustDecreaseConsumesFromEnd(t *testing.T) {
	// Total 6 -> 1: remove l3 (1), remove l2 (3), reduce l1 to 1.
	got := GroupAdjust(group231(), 1)
	want := []LineDelta{
		{LineID: "l3", Kind: DeltaRemove},
		{LineID: "l2", Kind: DeltaRemove},
		{LineID: "l1", Kind: DeltaSetQuantity, NewQuantity: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("decrease deltas = %+v, want %+v", got, want)
	}
}

func TestGroupAdjustPartialDecrease(t *testing.T) {
	// Total 6 -> 4: only the last line absorbs part of the reduction.
	got := GroupAdjust(group231(), 4)
	want := []LineDelta{
		{LineID: "l3", Kind: DeltaRemove},
		{LineID: "l2", Kind: DeltaSetQuantity, NewQuantity: 2},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("partial decrease deltas = %+v, want %+v", got, want)
	}
}

func TestGroupAdjustClampsAtEmpty(t *testing.T) {
	got := GroupAdjust(group231(), -5)
	want := []LineDelta{
		{LineID: "l3", Kind: DeltaRemove},
		{LineID: "l2", Kind: DeltaRemove},
		{LineID: "l1", Kind: DeltaRemove},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("clamped decrease deltas = %+v, want %+v", got, want)
	}
}

func TestGroupAdjustDoesNotMutateInput(t *testing.T) {
	in := group231()
	before := make([]Line, len(in))
	copy(before, in)
	GroupAdjust(in, 0)
	if !reflect.DeepEqual(in, before) {
		t.Fatalf("GroupAdjust mutated its input")
	}
}
