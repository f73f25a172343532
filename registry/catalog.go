package registry

import (
	"fmt"
	"path/filepath"

	"github.com/jifbench/jifbench/model"
)

// Catalog returns the function-bench catalog for a checkout rooted at root.
func Catalog(root string) (*Registry, error) {
	samples := filepath.Join(root, "build", "junction", "samples", "snapshots")
	fbench := filepath.Join(samples, "python", "function_bench")
	dataset := func(rel string) string {
		return filepath.Join(fbench, rel)
	}

	python := func(name, args string) model.TestCase {
		cmd := fmt.Sprintf("%s %s %s",
			filepath.Join(root, "bin", "venv", "bin", "python3"),
			filepath.Join(fbench, "run.py"),
			name)
		return NewTest("python", name, cmd, args, "", ReplaceRunner("run.py", "new_runner.py"))
	}
	node := func(name, args string) model.TestCase {
		cmd := fmt.Sprintf("/usr/bin/node --expose-gc %s %s",
			filepath.Join(samples, "node", "function_bench", "run.js"),
			name)
		return NewTest("node", name, cmd, args, "", nil)
	}

	jar := filepath.Join(samples, "java", "jar")
	resizerImages := map[string]string{
		"large": filepath.Join(samples, "images", "IMG_4011.jpg"),
		"tiny":  filepath.Join(samples, "thumbnails", "IMG_4011.jpg"),
	}

	tests := []model.TestCase{
		node("hello", `{ "test": "Hello, world" }`),
		python("chameleon", `{"num_of_rows": 3, "num_of_cols": 4}`),
		python("float_operation", `{ "N": 300}`),
		python("pyaes", `{"length_of_message": 20, "num_of_iterations": 3}`),
		python("matmul", `{ "N": 300}`),
		python("json_serdes", fmt.Sprintf(`{ "json_path": "%s" }`, dataset("json_serdes/2.json"))),
		python("video_processing", fmt.Sprintf(`{ "input_path": "%s" }`, dataset("dataset/video/SampleVideo_1280x720_10mb.mp4"))),
		python("lr_training", fmt.Sprintf(`{ "dataset_path": "%s" }`, dataset("dataset/amzn_fine_food_reviews/reviews10mb.csv"))),
		python("image_processing", fmt.Sprintf(`{ "path": "%s" }`, dataset("dataset/image/animal-dog.jpg"))),
		python("linpack", `{ "N": 300}`),
		NewTest("java", "matmul",
			fmt.Sprintf("/usr/bin/java -cp %s:%s %s",
				filepath.Join(jar, "jna-5.14.0.jar"),
				filepath.Join(jar, "json-simple-1.1.1.jar"),
				filepath.Join(samples, "java", "matmul", "MatMul.java")),
			`{ "N": 300 }`, "", AppendFlag("--new_version")),
	}

	tests = append(tests, Template("rust", "resizer",
		filepath.Join(samples, "rust", "resize-rs"),
		resizerImages, AppendFlag("--new-version"))...)
	tests = append(tests, Template("java", "resizer",
		fmt.Sprintf("/usr/bin/java -cp %s %s",
			filepath.Join(jar, "jna-5.14.0.jar"),
			filepath.Join(samples, "java", "resizer", "Resizer.java")),
		resizerImages, AppendFlag("--new_version"))...)
	tests = append(tests, Template("go", "resizer",
		filepath.Join(samples, "go", "resizer"),
		resizerImages, AppendFlag("--new_version"))...)

	return New(tests...)
}
