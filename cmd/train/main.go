package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"geosense/data"
	"geosense/ingest"
	"geosense/model"
)

func main() {
	gridPath := flag.String("grid", "", "gridded dataset CSV (long form: time,x1,x2,vars...)")
	charset := flag.String("charset", "utf-8", "input charset: utf-8, gbk or latin1")
	timeFormat := flag.String("time_format", "2006-01-02", "timestamp layout in the CSV")
	timeCol := flag.String("time_col", "time", "time column name")
	x1Col := flag.String("x1_col", "x1", "first spatial column name")
	x2Col := flag.String("x2_col", "x2", "second spatial column name")
	modelPath := flag.String("model_path", "./models/gp.json", "model output path")
	epochs := flag.Int("epochs", 30, "training epochs")
	lengthscale := flag.Float64("lengthscale", 0.25, "initial kernel lengthscale")
	noise := flag.Float64("noise", 0.1, "initial observation noise")
	learningRate := flag.Float64("lr", 0.05, "hyperparameter learning rate")
	contextFraction := flag.Float64("context_fraction", 0.5, "fraction of points per task used as context")
	testRatio := flag.Float64("test_ratio", 0.2, "fraction of time steps held out for evaluation")
	seed := flag.Int64("seed", 42, "sampling seed")
	flag.Parse()

	if *gridPath == "" {
		log.Fatal("grid is required")
	}

	grid, err := loadGrid(*gridPath, ingest.Options{
		Charset:    *charset,
		TimeFormat: *timeFormat,
		TimeColumn: *timeCol,
		X1Column:   *x1Col,
		X2Column:   *x2Col,
	})
	if err != nil {
		log.Fatalf("failed to load dataset: %v", err)
	}
	log.Printf("loaded %d time steps, %d x %d cells, variables %v",
		len(grid.Times), len(grid.X1), len(grid.X2), grid.VarNames)

	processor, normGrid, err := prepare(grid)
	if err != nil {
		log.Fatalf("failed to normalize dataset: %v", err)
	}

	loader, err := data.NewLoader(
		[]data.Source{normGrid},
		[]data.Source{normGrid},
		data.WithSeed(*seed),
	)
	if err != nil {
		log.Fatalf("failed to build task loader: %v", err)
	}

	trainTimes, testTimes := splitTimes(grid.Times, *testRatio)
	trainTasks, err := buildTasks(loader, trainTimes, *contextFraction)
	if err != nil {
		log.Fatalf("failed to build training tasks: %v", err)
	}
	testTasks, err := buildTasks(loader, testTimes, *contextFraction)
	if err != nil {
		log.Fatalf("failed to build evaluation tasks: %v", err)
	}

	gp, err := model.NewGP(model.GPConfig{
		Lengthscale:  *lengthscale,
		Noise:        *noise,
		LearningRate: *learningRate,
	})
	if err != nil {
		log.Fatalf("failed to build model: %v", err)
	}

	for epoch := 1; epoch <= *epochs; epoch++ {
		result, err := model.TrainEpoch(gp, trainTasks, model.TrainOptions{
			Shuffle: true,
			Seed:    *seed + int64(epoch),
		})
		if err != nil {
			log.Fatalf("epoch %d failed: %v", epoch, err)
		}
		log.Printf("epoch %d/%d loss=%.4f (%v)", epoch, *epochs, result.MeanLoss, result.Duration)
	}

	if len(testTasks) > 0 {
		nll, rmse, err := evaluate(gp, testTasks)
		if err != nil {
			log.Fatalf("evaluation failed: %v", err)
		}
		log.Printf("held-out: nll=%.4f rmse=%.4f (%d tasks)", nll, rmse, len(testTasks))
	}

	if err := os.MkdirAll(filepath.Dir(*modelPath), 0o755); err != nil {
		log.Fatalf("failed to create model dir: %v", err)
	}
	if err := gp.Save(*modelPath); err != nil {
		log.Fatalf("failed to save model: %v", err)
	}

	statsPath := *modelPath + ".stats.json"
	if payload, err := processor.MarshalStats(); err == nil {
		if err := os.WriteFile(statsPath, payload, 0o644); err != nil {
			log.Printf("failed to save scaling stats: %v", err)
		}
	}

	cfg := gp.Config()
	log.Printf("fitted: lengthscale=%.4f variance=%.4f noise=%.4f",
		cfg.Lengthscale, cfg.Variance, cfg.Noise)
	fmt.Printf("model saved to %s\n", *modelPath)
}

func loadGrid(path string, opts ingest.Options) (*data.Grid, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	frame, err := ingest.ReadStationsCSV(file, opts)
	if err != nil {
		return nil, err
	}

	cleaned, issues := ingest.NewCleaner().Clean(frame)
	if len(issues) > 0 {
		log.Printf("quality control rejected %d of %d rows", len(issues), frame.Len())
	}

	return ingest.GridFromFrame(cleaned)
}

func prepare(grid *data.Grid) (*data.Processor, *data.Grid, error) {
	x1Map := data.CoordMap{Lo: grid.X1[0], Hi: grid.X1[len(grid.X1)-1]}
	x2Map := data.CoordMap{Lo: grid.X2[0], Hi: grid.X2[len(grid.X2)-1]}

	processor, err := data.NewProcessor(data.ProcessorConfig{
		TimeName: grid.TimeName,
		X1Name:   grid.X1Name,
		X2Name:   grid.X2Name,
		X1Map:    x1Map,
		X2Map:    x2Map,
	})
	if err != nil {
		return nil, nil, err
	}

	normGrid, err := processor.NormalizeGrid(grid)
	if err != nil {
		return nil, nil, err
	}
	return processor, normGrid, nil
}

func splitTimes(times []time.Time, testRatio float64) (train, test []time.Time) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}

	split := int(float64(len(times)) * (1 - testRatio))
	if split < 1 {
		split = 1
	}
	return times[:split], times[split:]
}

func buildTasks(loader *data.Loader, times []time.Time, contextFraction float64) ([]*data.Task, error) {
	tasks := make([]*data.Task, 0, len(times))
	for _, t := range times {
		task, err := loader.LoadTask(t, data.SampleFraction(contextFraction), data.SampleAll())
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// evaluate reports mean negative log-likelihood per target point and RMSE of
// the posterior mean over the held-out tasks.
func evaluate(gp *model.GP, tasks []*data.Task) (nll, rmse float64, err error) {
	var lossSum float64
	var sqErrSum float64
	var count int

	for _, task := range tasks {
		loss, err := gp.Loss(task)
		if err != nil {
			return 0, 0, err
		}
		lossSum += loss

		mean, err := gp.Mean(task)
		if err != nil {
			return 0, 0, err
		}

		_, _, y, err := task.TargetPoints()
		if err != nil {
			return 0, 0, err
		}
		for v := range y {
			for j, truth := range y[v] {
				d := mean.At(v, j) - truth
				sqErrSum += d * d
				count++
			}
		}
	}

	nll = lossSum / float64(len(tasks))
	if count > 0 {
		rmse = math.Sqrt(sqErrSum / float64(count))
	}
	return nll, rmse, nil
}
