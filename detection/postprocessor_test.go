package detection

import (
	"image"
	"testing"

	"go.viam.com/test"
)

func labels(dets []Detection) []string {
	out := make([]string, 0, len(dets))
	for _, d := range dets {
		out = append(out, d.Label)
	}
	return out
}

func TestScoreFilter(t *testing.T) {
	dets := []Detection{{Label: "a", Confidence: 0.3}, {Label: "b", Confidence: 0.6}, {Label: "c", Confidence: 0.5}}
	kept, rejected := NewScoreFilter(0.5)(dets)
	test.That(t, labels(kept), test.ShouldResemble, []string{"b", "c"})
	test.That(t, labels(rejected), test.ShouldResemble, []string{"a"})
}

func TestPatternFilter(t *testing.T) {
	dets := []Detection{{Label: "person"}, {Label: "car"}, {Label: "dog"}, {Label: "carrot"}}

	pp, err := NewPatternFilter("(person|car)")
	test.That(t, err, test.ShouldBeNil)
	kept, rejected := pp(dets)
	// anchored at the start only
	test.That(t, labels(kept), test.ShouldResemble, []string{"person", "car", "carrot"})
	test.That(t, labels(rejected), test.ShouldResemble, []string{"dog"})

	pp, err = NewPatternFilter("")
	test.That(t, err, test.ShouldBeNil)
	kept, rejected = pp(dets)
	test.That(t, kept, test.ShouldHaveLength, 4)
	test.That(t, rejected, test.ShouldBeEmpty)

	_, err = NewPatternFilter("(person")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestParseAreaSpec(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want AreaSpec
	}{
		{"", AreaSpec{}},
		{"5%", AreaSpec{Value: 5, Percent: true}},
		{" 300px ", AreaSpec{Value: 300}},
		{"300", AreaSpec{Value: 300}},
		{"12.5PX", AreaSpec{Value: 12.5}},
	} {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseAreaSpec(tc.in)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, got, test.ShouldResemble, tc.want)
		})
	}
	_, err := ParseAreaSpec("big")
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, AreaSpec{Value: 10, Percent: true}.Pixels(1000), test.ShouldEqual, 100.0)
	test.That(t, AreaSpec{Value: 10}.Pixels(1000), test.ShouldEqual, 10.0)
}

func TestSizeFilter(t *testing.T) {
	pp, err := NewSizeFilter("", 100, 100)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pp, test.ShouldBeNil)

	pp, err = NewSizeFilter("50%", 100, 100)
	test.That(t, err, test.ShouldBeNil)
	kept, rejected := pp([]Detection{
		{Label: "small", Box: Box{0, 0, 10, 10}},
		{Label: "half", Box: Box{0, 0, 100, 50}},
		{Label: "huge", Box: Box{0, 0, 100, 90}},
	})
	test.That(t, labels(kept), test.ShouldResemble, []string{"small", "half"})
	test.That(t, labels(rejected), test.ShouldResemble, []string{"huge"})

	_, err = NewSizeFilter("lots", 100, 100)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestZoneFilter(t *testing.T) {
	pp, err := NewZoneFilter(nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pp, test.ShouldBeNil)

	zones := []Polygon{
		{Name: "porch", Points: []image.Point{{0, 0}, {100, 0}, {100, 100}, {0, 100}}, Pattern: "person"},
		{Name: "street", Points: []image.Point{{200, 0}, {300, 0}, {300, 100}, {200, 100}}},
	}
	pp, err = NewZoneFilter(zones)
	test.That(t, err, test.ShouldBeNil)
	kept, rejected := pp([]Detection{
		{Label: "person", Box: Box{10, 10, 20, 20}},
		{Label: "car", Box: Box{10, 10, 20, 20}},
		{Label: "car", Box: Box{210, 10, 220, 20}},
		{Label: "dog", Box: Box{120, 10, 150, 20}},
	})
	test.That(t, kept, test.ShouldResemble, []Detection{
		{Label: "person", Box: Box{10, 10, 20, 20}},
		{Label: "car", Box: Box{210, 10, 220, 20}},
	})
	test.That(t, rejected, test.ShouldResemble, []Detection{
		{Label: "car", Box: Box{10, 10, 20, 20}},
		{Label: "dog", Box: Box{120, 10, 150, 20}},
	})

	_, err = NewZoneFilter([]Polygon{{Name: "bad", Points: zones[0].Points, Pattern: "("}})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestChain(t *testing.T) {
	pattern, err := NewPatternFilter("person")
	test.That(t, err, test.ShouldBeNil)
	pp := Chain(NewScoreFilter(0.5), nil, pattern)
	kept, rejected := pp([]Detection{
		{Label: "person", Confidence: 0.9},
		{Label: "person", Confidence: 0.1},
		{Label: "cat", Confidence: 0.9},
	})
	test.That(t, kept, test.ShouldResemble, []Detection{{Label: "person", Confidence: 0.9}})
	test.That(t, labels(rejected), test.ShouldResemble, []string{"person", "cat"})
}
