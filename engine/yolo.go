package engine

import (
	"image"

	iface "VisorDet/interface"
)

type candidate struct {
	classID        int
	conf           float32
	x1, y1, x2, y2 float32
}

func (c candidate) rect() image.Rectangle {
	return image.Rect(int(c.x1), int(c.y1), int(c.x2), int(c.y2))
}

// parseYOLOv8 reads a [1, 4+nc, n] tensor laid out channel-major: row r holds attribute r for
// every anchor. Rows 0..3 are cx, cy, w, h in input pixels, the rest are class scores.
func parseYOLOv8(data []float32, attrs, n int, scaleX, scaleY, minConf float32) []candidate {
	if attrs <= 4 || n <= 0 || len(data) < attrs*n {
		return nil
	}
	var out []candidate
	for i := 0; i < n; i++ {
		best := float32(0)
		bestID := -1
		for c := 4; c < attrs; c++ {
			if s := data[c*n+i]; s > best {
				best = s
				bestID = c - 4
			}
		}
		if bestID < 0 || best < minConf {
			continue
		}
		cx, cy := data[i], data[n+i]
		w, h := data[2*n+i], data[3*n+i]
		out = append(out, candidate{
			classID: bestID,
			conf:    best,
			x1:      (cx - w/2) * scaleX,
			y1:      (cy - h/2) * scaleY,
			x2:      (cx + w/2) * scaleX,
			y2:      (cy + h/2) * scaleY,
		})
	}
	return out
}

func toDetections(cands []candidate, keep []int, names []string) iface.Detections {
	dets := make(iface.Detections, 0, len(keep))
	for _, idx := range keep {
		if idx < 0 || idx >= len(cands) {
			continue
		}
		c := cands[idx]
		box := iface.NewBox(c.x1, c.y1, c.x2, c.y2)
		dets = append(dets, iface.Result{
			ClassID: c.classID,
			Name:    className(names, c.classID),
			Conf:    c.conf,
			Box:     box,
			Center: iface.Position{
				X: (box.LT.X + box.RB.X) / 2,
				Y: (box.LT.Y + box.RB.Y) / 2,
			},
		})
	}
	return dets
}
