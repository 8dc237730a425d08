package detection

import (
	"encoding/json"
	"image"
	"testing"

	"go.viam.com/test"
)

func sampleResult(frameID string) *Result {
	r := NewResult(frameID, []Detection{
		{Label: "person", Box: Box{10, 20, 110, 220}, Confidence: 0.97},
		{Label: "car", Box: Box{300, 300, 500, 400}, Confidence: 0.81},
		{Label: "person", Box: Box{400, 10, 450, 90}, Confidence: 0.5},
	})
	r.ImageDimensions = ImageDimensions{Original: []int{480, 640}}
	return r
}

func TestPrefix(t *testing.T) {
	test.That(t, sampleResult("snapshot").Prefix(), test.ShouldEqual, "[s] ")
	test.That(t, sampleResult("alarm").Prefix(), test.ShouldEqual, "[a] ")
	test.That(t, sampleResult("34").Prefix(), test.ShouldEqual, "[x] ")
}

func TestPrediction(t *testing.T) {
	r := sampleResult("alarm")
	test.That(t, r.Prediction(false), test.ShouldEqual, "[a] detected:person,car")
	test.That(t, r.Prediction(true), test.ShouldEqual, "[a] detected:person:97% car:81% ")

	empty := NewResult("alarm", nil)
	test.That(t, empty.Prediction(false), test.ShouldEqual, "")
	test.That(t, empty.Prediction(true), test.ShouldEqual, "")
}

func TestOutput(t *testing.T) {
	r := sampleResult("alarm")
	line, ok, err := r.Output(false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, line, test.ShouldEqual,
		`[a] detected:person,car--SPLIT--{"labels":["person","car","person"],`+
			`"boxes":[[10,20,110,220],[300,300,500,400],[400,10,450,90]],"frame_id":"alarm",`+
			`"confidences":[0.97,0.81,0.5],"image_dimensions":{"original":[480,640],"resized":null}}`)

	_, ok, err = NewResult("snapshot", nil).Output(true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestSummaryNeverNull(t *testing.T) {
	out, err := json.Marshal((&Result{FrameID: "alarm"}).Summary())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(out), test.ShouldEqual,
		`{"labels":[],"boxes":[],"frame_id":"alarm","confidences":[],"image_dimensions":{"original":null,"resized":null}}`)
}

func TestValidate(t *testing.T) {
	r := sampleResult("alarm")
	test.That(t, r.Validate(), test.ShouldBeNil)
	r.Confidences = r.Confidences[:1]
	test.That(t, r.Validate(), test.ShouldNotBeNil)
	test.That(t, r.Validate().Error(), test.ShouldContainSubstring, "3 labels, 3 boxes, 1 confidences")
}

func TestFrameIDUnmarshal(t *testing.T) {
	var r Result
	test.That(t, json.Unmarshal([]byte(`{"labels":["dog"],"boxes":[[1,2,3,4]],"confidences":[0.6],"frame_id":12}`), &r),
		test.ShouldBeNil)
	test.That(t, r.FrameID, test.ShouldEqual, FrameID("12"))
	test.That(t, r.Boxes, test.ShouldResemble, []Box{{1, 2, 3, 4}})

	test.That(t, json.Unmarshal([]byte(`{"frame_id":"snapshot"}`), &r), test.ShouldBeNil)
	test.That(t, r.FrameID, test.ShouldEqual, FrameID("snapshot"))

	test.That(t, json.Unmarshal([]byte(`{"frame_id":[1]}`), &r), test.ShouldNotBeNil)
}

func TestImageDimensions(t *testing.T) {
	orig := image.NewRGBA(image.Rect(0, 0, 1920, 1080))
	resized := image.NewRGBA(image.Rect(0, 0, 800, 450))
	test.That(t, NewImageDimensions(orig, resized), test.ShouldResemble,
		ImageDimensions{Original: []int{1080, 1920}, Resized: []int{450, 800}})
	test.That(t, NewImageDimensions(orig, nil).Resized, test.ShouldBeNil)
}

func TestBox(t *testing.T) {
	b := Box{0, 0, 10, 20}
	test.That(t, b.Area(), test.ShouldEqual, 200)
	test.That(t, b.Intersects(Box{5, 5, 30, 30}), test.ShouldBeTrue)
	test.That(t, b.Intersects(Box{10, 20, 30, 30}), test.ShouldBeTrue)
	test.That(t, b.Intersects(Box{11, 0, 30, 30}), test.ShouldBeFalse)
}
