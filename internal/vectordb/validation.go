package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// DimensionMismatchError is returned when the embedding dimension does not
// match the collection schema.
type DimensionMismatchError struct {
	Collection string
	Expected   int
	Got        int
}

func (e DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch for collection %s: expected %d, got %d; check the embedding model or recreate the collection",
		e.Collection, e.Expected, e.Got)
}

// ValidateDimensions checks the samples collection against the configured
// embedding dimension. Nil when the index is disabled or no expectation is
// configured; a missing collection logs a warning rather than failing, since
// first startup may precede collection creation.
func (c *Client) ValidateDimensions(ctx context.Context) error {
	if c == nil || !c.cfg.Enabled || c.cfg.ExpectedDim <= 0 {
		return nil
	}

	info, err := c.getCollectionInfo(ctx, c.cfg.Samples)
	if err != nil {
		c.log.Warn("failed to read collection info during validation",
			zap.String("collection", c.cfg.Samples),
			zap.Error(err))
		return nil
	}

	if info.VectorSize != c.cfg.ExpectedDim {
		return DimensionMismatchError{
			Collection: c.cfg.Samples,
			Expected:   c.cfg.ExpectedDim,
			Got:        info.VectorSize,
		}
	}

	c.log.Info("collection dimension validated",
		zap.String("collection", c.cfg.Samples),
		zap.Int("dimension", info.VectorSize),
		zap.Int64("points", info.PointsCount))
	return nil
}

// CollectionInfo holds basic information about a Qdrant collection.
type CollectionInfo struct {
	Name        string
	VectorSize  int
	PointsCount int64
}

func (c *Client) getCollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error) {
	url := fmt.Sprintf("%s/collections/%s", c.base, collection)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpw.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get collection info: status %d", resp.StatusCode)
	}

	var result struct {
		Result struct {
			Status      string `json:"status"`
			PointsCount int64  `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &CollectionInfo{
		Name:        collection,
		VectorSize:  result.Result.Config.Params.Vectors.Size,
		PointsCount: result.Result.PointsCount,
	}, nil
}
