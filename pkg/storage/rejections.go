package storage

import (
	"fmt"

	"go.uber.org/zap"
)

// SaveRejection records a frame that failed verification. reason is a short
// label such as "replay"; detail is the error text.
func (i *Inbox) SaveRejection(peer, reason, detail string) error {
	if err := i.checkOpen(); err != nil {
		return err
	}

	now := i.clock()
	query := `
		INSERT INTO rejections (peer, reason, detail, rejected_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`

	if _, err := i.db.Exec(query, peer, reason, detail, now.Unix(), i.expiry(now)); err != nil {
		return fmt.Errorf("failed to save rejection: %w", err)
	}

	i.log.Debug("Saved rejection", zap.String("peer", peer), zap.String("reason", reason))
	return nil
}

// RejectionCounts returns the number of unexpired rejections per reason.
func (i *Inbox) RejectionCounts() (map[string]int, error) {
	if err := i.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT reason, COUNT(*)
		FROM rejections
		WHERE expires_at > ?
		GROUP BY reason
	`

	rows, err := i.db.Query(query, i.clock().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to count rejections: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			reason string
			count  int
		)
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, fmt.Errorf("failed to scan rejection count: %w", err)
		}
		counts[reason] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to count rejections: %w", err)
	}

	return counts, nil
}
