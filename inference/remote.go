package inference

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"time"

	"github.com/go-resty/resty/v2"

	"morphoview/utils"
)

// RemoteModel Classifier served by a model server. The image is posted as a PNG
// multipart field "file"; the server answers with a Prediction document.
type RemoteModel struct {
	URL   string
	Model string
	http  *resty.Client
}

func NewRemoteModel(url string, model string, timeout time.Duration) *RemoteModel {
	c := resty.New().SetTimeout(timeout)
	return &RemoteModel{URL: url, Model: model, http: c}
}

func (m *RemoteModel) Name() string {
	if m.Model != "" {
		return m.Model
	}
	return "remote"
}

func (m *RemoteModel) Classify(ctx context.Context, img image.Image) (Prediction, error) {
	buf, err := utils.ImageToPngBuffer(img)
	if err != nil {
		return Prediction{}, err
	}

	var prediction Prediction
	r := m.http.R().SetContext(ctx).
		SetFileReader("file", "slide.png", bytes.NewReader(buf)).
		SetResult(&prediction)
	if m.Model != "" {
		r.SetFormData(map[string]string{"model": m.Model})
	}
	rr, err := r.Post(m.URL)
	if err != nil {
		return Prediction{}, fmt.Errorf("model server: %w", err)
	}
	if rr.IsError() {
		return Prediction{}, fmt.Errorf("model server: %s; body: %s", rr.Status(), rr.String())
	}
	if len(prediction.Scores) == 0 {
		return Prediction{}, ErrNoScores
	}
	if prediction.Model == "" {
		prediction.Model = m.Name()
	}
	return prediction, nil
}
