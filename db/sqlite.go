package db

import (
	"database/sql"
	"errors"
	"time"

	"geosense/data"
	_ "github.com/mattn/go-sqlite3"
)

var database *sql.DB

// InitDB initializes the SQLite database
func InitDB(path string) error {
	var err error
	database, err = sql.Open("sqlite3", path)
	if err != nil {
		return err
	}

	query := `
    CREATE TABLE IF NOT EXISTS training_runs (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_type VARCHAR(50) NOT NULL,
        epochs INTEGER NOT NULL,
        final_loss REAL,
        hyperparams TEXT,
        started_at DATETIME NOT NULL,
        finished_at DATETIME
    );
    CREATE TABLE IF NOT EXISTS epoch_losses (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        run_id INTEGER NOT NULL,
        epoch INTEGER NOT NULL,
        mean_loss REAL NOT NULL,
        duration_ms INTEGER,
        UNIQUE(run_id, epoch)
    );
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        run_id INTEGER,
        time DATETIME NOT NULL,
        x1 REAL NOT NULL,
        x2 REAL NOT NULL,
        variable VARCHAR(50) NOT NULL,
        mean REAL NOT NULL,
        std REAL NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_time ON predictions(time);
    `

	_, err = database.Exec(query)
	return err
}

// CloseDB closes the database handle.
func CloseDB() error {
	if database == nil {
		return nil
	}
	return database.Close()
}

// TrainingRun is one persisted training session.
type TrainingRun struct {
	ID          int64
	ModelType   string
	Epochs      int
	FinalLoss   float64
	Hyperparams string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// StartTrainingRun inserts a new run and returns its id.
func StartTrainingRun(modelType string) (int64, error) {
	if database == nil {
		return 0, errors.New("database not initialized")
	}
	res, err := database.Exec(
		`INSERT INTO training_runs (model_type, epochs, started_at) VALUES (?, 0, ?)`,
		modelType, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SaveEpochLoss records the mean loss of one epoch of a run.
func SaveEpochLoss(runID int64, epoch int, meanLoss float64, duration time.Duration) error {
	if database == nil {
		return errors.New("database not initialized")
	}
	_, err := database.Exec(
		`INSERT OR REPLACE INTO epoch_losses (run_id, epoch, mean_loss, duration_ms) VALUES (?, ?, ?, ?)`,
		runID, epoch, meanLoss, duration.Milliseconds(),
	)
	return err
}

// FinishTrainingRun stamps a run with its final epoch count, loss and
// hyperparameters.
func FinishTrainingRun(runID int64, epochs int, finalLoss float64, hyperparams string) error {
	if database == nil {
		return errors.New("database not initialized")
	}
	_, err := database.Exec(
		`UPDATE training_runs SET epochs = ?, final_loss = ?, hyperparams = ?, finished_at = ? WHERE id = ?`,
		epochs, finalLoss, hyperparams, time.Now(), runID,
	)
	return err
}

// RecentTrainingRuns returns the latest runs, newest first.
func RecentTrainingRuns(limit int) ([]TrainingRun, error) {
	if database == nil {
		return nil, errors.New("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := database.Query(
		`SELECT id, model_type, epochs, COALESCE(final_loss, 0), COALESCE(hyperparams, ''), started_at, COALESCE(finished_at, started_at)
         FROM training_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []TrainingRun
	for rows.Next() {
		var run TrainingRun
		if err := rows.Scan(&run.ID, &run.ModelType, &run.Epochs, &run.FinalLoss, &run.Hyperparams, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SaveGridPrediction persists every cell of a mean/std grid pair inside one
// transaction. The grids must share shape and variables.
func SaveGridPrediction(runID int64, mean, std *data.Grid) error {
	if database == nil {
		return errors.New("database not initialized")
	}
	if err := mean.Validate(); err != nil {
		return err
	}
	if err := std.Validate(); err != nil {
		return err
	}

	tx, err := database.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(
		`INSERT INTO predictions (run_id, time, x1, x2, variable, mean, std) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for ti, t := range mean.Times {
		for i, x1 := range mean.X1 {
			for j, x2 := range mean.X2 {
				for _, name := range mean.VarNames {
					m, err := mean.At(name, ti, i, j)
					if err != nil {
						tx.Rollback()
						return err
					}
					s, err := std.At(name, ti, i, j)
					if err != nil {
						tx.Rollback()
						return err
					}
					if _, err := stmt.Exec(runID, t, x1, x2, name, m, s); err != nil {
						tx.Rollback()
						return err
					}
				}
			}
		}
	}
	return tx.Commit()
}

// PredictionPoint is one stored prediction cell.
type PredictionPoint struct {
	Time     time.Time
	X1       float64
	X2       float64
	Variable string
	Mean     float64
	Std      float64
}

// PredictionsAt returns all stored predictions for a time index.
func PredictionsAt(t time.Time) ([]PredictionPoint, error) {
	if database == nil {
		return nil, errors.New("database not initialized")
	}
	rows, err := database.Query(
		`SELECT time, x1, x2, variable, mean, std FROM predictions WHERE time = ? ORDER BY x1, x2, variable`, t)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []PredictionPoint
	for rows.Next() {
		var p PredictionPoint
		if err := rows.Scan(&p.Time, &p.X1, &p.X2, &p.Variable, &p.Mean, &p.Std); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
