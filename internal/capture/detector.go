package capture

import (
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"

	"github.com/banshee-data/incident.report/internal/traffic"
)

// cocoClasses holds the 80 COCO class names in model output order.
var cocoClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// targetClasses maps the COCO names the pipeline cares about onto the
// tracker's object classes. Every other detection is discarded at the
// adapter boundary.
var targetClasses = map[string]traffic.ObjectClass{
	"person":     traffic.ClassPerson,
	"car":        traffic.ClassCar,
	"truck":      traffic.ClassTruck,
	"bus":        traffic.ClassBus,
	"motorcycle": traffic.ClassMotorcycle,
	"bicycle":    traffic.ClassBicycle,
}

// DetectorConfig holds the YOLO model settings.
type DetectorConfig struct {
	ModelPath        string
	ConfidenceThresh float32
	NMSThresh        float32
	InputWidth       int
	InputHeight      int
}

// DefaultDetectorConfig returns production defaults for YOLOv8n.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		ModelPath:        "models/yolov8n.onnx",
		ConfidenceThresh: 0.25,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
	}
}

// Detector runs a YOLOv8 ONNX model over BGR frames and emits tracker
// detections in pixel coordinates. Not safe for concurrent use; the
// pipeline loop owns it.
type Detector struct {
	net       gocv.Net
	config    DetectorConfig
	inputSize image.Point
}

// NewDetector loads the ONNX model.
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load model from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &Detector{
		net:       net,
		config:    cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

// Detect runs one forward pass and returns detections for the classes the
// pipeline tracks, in pixel coordinates of the source frame.
func (d *Detector) Detect(img gocv.Mat) ([]traffic.Detection, error) {
	if img.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	imgW := float32(img.Cols())
	imgH := float32(img.Rows())

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	return d.parseOutput(output, imgW, imgH)
}

// parseOutput decodes the YOLOv8 output tensor. Shape is [1, 84, N]:
// 4 bbox values then 80 class scores, N candidate boxes.
func (d *Detector) parseOutput(output gocv.Mat, imgW, imgH float32) ([]traffic.Detection, error) {
	rows := output.Cols() // candidate boxes
	cols := output.Rows() // 4 bbox + 80 classes

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read model output: %w", err)
	}

	var boxes []image.Rectangle
	var confidences []float32
	var classIDs []int

	for i := 0; i < rows; i++ {
		maxScore := float32(0)
		maxClassID := 0
		for c := 4; c < cols; c++ {
			if score := data[c*rows+i]; score > maxScore {
				maxScore = score
				maxClassID = c - 4
			}
		}
		if maxScore < d.config.ConfidenceThresh {
			continue
		}
		if _, wanted := targetClasses[cocoClasses[maxClassID]]; !wanted {
			continue
		}

		// Model space center/size to source pixel corners.
		cx := data[0*rows+i]
		cy := data[1*rows+i]
		w := data[2*rows+i]
		h := data[3*rows+i]
		x1 := int((cx - w/2) * imgW / float32(d.config.InputWidth))
		y1 := int((cy - h/2) * imgH / float32(d.config.InputHeight))
		x2 := int((cx + w/2) * imgW / float32(d.config.InputWidth))
		y2 := int((cy + h/2) * imgH / float32(d.config.InputHeight))

		boxes = append(boxes, image.Rect(x1, y1, x2, y2))
		confidences = append(confidences, maxScore)
		classIDs = append(classIDs, maxClassID)
	}

	if len(boxes) == 0 {
		return nil, nil
	}

	indices := gocv.NMSBoxes(boxes, confidences, d.config.ConfidenceThresh, d.config.NMSThresh)

	detections := make([]traffic.Detection, 0, len(indices))
	for _, idx := range indices {
		box := boxes[idx]
		detections = append(detections, traffic.Detection{
			BBox: traffic.BBox{
				X: float64(box.Min.X),
				Y: float64(box.Min.Y),
				W: float64(box.Dx()),
				H: float64(box.Dy()),
			},
			Class:      targetClasses[cocoClasses[classIDs[idx]]],
			Confidence: float64(confidences[idx]),
		})
	}
	return detections, nil
}

// Close releases the model.
func (d *Detector) Close() error {
	d.net.Close()
	return nil
}
