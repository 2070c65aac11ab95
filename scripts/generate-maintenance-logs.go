//go:build ignore

// Package main generates a synthetic maintenance log CSV for benchmarking
// chunk, build and search.
// Usage: go run scripts/generate-maintenance-logs.go -records 5000 -output testdata/bench/logs.csv
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numRecords = flag.Int("records", 1000, "Number of records to generate")
	output     = flag.String("output", "testdata/bench/logs.csv", "Output CSV file")
	seed       = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var (
	categories = []string{"機械", "電気", "計装", "配管", "その他"}
	workTypes  = []string{"点検", "修理", "交換", "調整", "清掃"}
	locations  = []string{"第1工場", "第2工場", "倉庫棟"}
	lines      = []string{"A", "B", "C", "D"}
	operators  = []string{"佐藤", "鈴木", "高橋", "田中", "伊藤"}
)

type machine struct {
	eq1, eq2, eq3 string
}

var machines = []machine{
	{"プレス機", "油圧ユニット", "油圧ポンプ"},
	{"プレス機", "油圧ユニット", "ストレーナ"},
	{"コンベア", "駆動部", "モーター"},
	{"コンベア", "駆動部", "減速機"},
	{"搬送機", "ローラー", "ベアリング"},
	{"射出成形機", "加熱筒", "ヒーター"},
	{"コンプレッサー", "吸気系", "フィルター"},
	{"冷却塔", "送風機", "ファンベルト"},
}

var symptoms = []string{
	"%sから異音が発生した。",
	"%sの温度が上昇し警報が出た。",
	"%s付近で油漏れを確認した。",
	"%sが停止しブレーカーがトリップした。",
	"%sの振動値が基準を超えていた。",
	"%sの圧力が安定しなかった。",
}

var actions = []string{
	"%sを分解清掃して復旧した。",
	"%sを新品に交換した。",
	"%sの締結部を増し締めした。",
	"%sの絶縁抵抗を測定し異常がないことを確認した。",
	"%sの設定値を調整して様子を見ることにした。",
}

func main() {
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(filepath.Dir(*output), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create output directory: %v\n", err)
		os.Exit(1)
	}

	f, err := os.Create(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", *output, err)
		os.Exit(1)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"doc_id", "date", "category", "work_type", "location", "line",
		"equipment1", "equipment2", "equipment3", "title", "symptom",
		"action_taken", "parts_replaced", "operator", "text",
	}
	if err := w.Write(header); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write header: %v\n", err)
		os.Exit(1)
	}

	for i := 0; i < *numRecords; i++ {
		if err := w.Write(generateRecord(rng, i)); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write record %d: %v\n", i, err)
			os.Exit(1)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to flush %s: %v\n", *output, err)
		os.Exit(1)
	}

	fmt.Printf("Generated %d records in %s\n", *numRecords, *output)
}

func generateRecord(rng *rand.Rand, i int) []string {
	m := machines[rng.Intn(len(machines))]
	symptom := fmt.Sprintf(pick(rng, symptoms), m.eq3)
	action := fmt.Sprintf(pick(rng, actions), m.eq3)

	parts := ""
	if strings.Contains(action, "交換") {
		parts = m.eq3
	}

	// A few sentences of filler so some records span several chunks.
	var body strings.Builder
	body.WriteString(symptom)
	for n := rng.Intn(4); n > 0; n-- {
		fmt.Fprintf(&body, "%sの%sを確認した。", m.eq1, pick(rng, []string{"運転状態", "外観", "配線", "潤滑状態"}))
	}
	body.WriteString(action)

	return []string{
		fmt.Sprintf("DOC-%06d", i+1),
		fmt.Sprintf("%d-%02d-%02d", 2015+rng.Intn(10), 1+rng.Intn(12), 1+rng.Intn(28)),
		pick(rng, categories),
		pick(rng, workTypes),
		pick(rng, locations),
		pick(rng, lines),
		m.eq1, m.eq2, m.eq3,
		fmt.Sprintf("%s %s", m.eq2, strings.TrimSuffix(symptom, "。")),
		symptom,
		action,
		parts,
		pick(rng, operators),
		body.String(),
	}
}

func pick(rng *rand.Rand, values []string) string {
	return values[rng.Intn(len(values))]
}
