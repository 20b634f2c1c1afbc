package models

import (
	"encoding/json"
	"fmt"
)

// VectorKey は理解ベクトルの次元を表すキーです。
type VectorKey string

const (
	VectorPricing      VectorKey = "pricing"
	VectorChurn        VectorKey = "churn"
	VectorOnboarding   VectorKey = "onboarding"
	VectorFeatures     VectorKey = "features"
	VectorSupport      VectorKey = "support"
	VectorSatisfaction VectorKey = "satisfaction"
)

// DimensionCount は次元の総数です。
const DimensionCount = 6

// VectorKeys は全次元を固定の反復順で並べたものです。
// プランの組み立てや表示の順序はこの順番に従います。
var VectorKeys = [DimensionCount]VectorKey{
	VectorPricing,
	VectorChurn,
	VectorOnboarding,
	VectorFeatures,
	VectorSupport,
	VectorSatisfaction,
}

// IsValid はキーが既知の次元かどうかを返します。
func (k VectorKey) IsValid() bool {
	return k.index() >= 0
}

func (k VectorKey) index() int {
	for i, key := range VectorKeys {
		if key == k {
			return i
		}
	}
	return -1
}

// Vector は1次元分の理解度カウンタです。
type Vector struct {
	Value int    `json:"value" yaml:"value"`
	Max   int    `json:"max" yaml:"max"`
	Label string `json:"label" yaml:"label"`
	Color string `json:"color" yaml:"color"`
}

// Percent は Max に対する Value の割合（0-100）を返します。
func (v Vector) Percent() int {
	if v.Max <= 0 {
		return 0
	}
	return v.Value * 100 / v.Max
}

func (v Vector) clamp(value int) int {
	if value < 0 {
		return 0
	}
	if value > v.Max {
		return v.Max
	}
	return value
}

// VectorSet は6次元すべてのベクトルを保持する値型です。
// 固定長配列なので代入やコピーでスナップショット全体が複製されます。
type VectorSet struct {
	vectors [DimensionCount]Vector
}

// NewVectorSet はマップから VectorSet を生成します。
// 全次元が揃っていない場合や範囲外の値がある場合はエラーを返します。
func NewVectorSet(m map[VectorKey]Vector) (VectorSet, error) {
	var vs VectorSet
	for key := range m {
		if !key.IsValid() {
			return VectorSet{}, fmt.Errorf("unknown dimension %q", key)
		}
	}
	for i, key := range VectorKeys {
		v, ok := m[key]
		if !ok {
			return VectorSet{}, fmt.Errorf("dimension %q is missing", key)
		}
		if v.Max <= 0 {
			return VectorSet{}, fmt.Errorf("dimension %q: max must be positive, got %d", key, v.Max)
		}
		if v.Value < 0 || v.Value > v.Max {
			return VectorSet{}, fmt.Errorf("dimension %q: value %d out of range [0, %d]", key, v.Value, v.Max)
		}
		vs.vectors[i] = v
	}
	return vs, nil
}

// Get は指定次元のベクトルを返します。
func (vs VectorSet) Get(key VectorKey) (Vector, bool) {
	i := key.index()
	if i < 0 {
		return Vector{}, false
	}
	return vs.vectors[i], true
}

// With は指定次元の値を差し替えたコピーを返します。値は [0, Max] に丸められます。
// 未知のキーの場合は元のセットをそのまま返します。
func (vs VectorSet) With(key VectorKey, value int) VectorSet {
	i := key.index()
	if i < 0 {
		return vs
	}
	vs.vectors[i].Value = vs.vectors[i].clamp(value)
	return vs
}

// Each は固定の次元順で fn を呼び出します。
func (vs VectorSet) Each(fn func(key VectorKey, v Vector)) {
	for i, key := range VectorKeys {
		fn(key, vs.vectors[i])
	}
}

// Map は次元キーをキーとするマップに変換します。
func (vs VectorSet) Map() map[VectorKey]Vector {
	m := make(map[VectorKey]Vector, DimensionCount)
	vs.Each(func(key VectorKey, v Vector) {
		m[key] = v
	})
	return m
}

// Equal は2つのセットが同一かどうかを返します。
func (vs VectorSet) Equal(other VectorSet) bool {
	return vs.vectors == other.vectors
}

// Total は全次元の値の合計と最大値の合計を返します。
func (vs VectorSet) Total() (value, max int) {
	for _, v := range vs.vectors {
		value += v.Value
		max += v.Max
	}
	return value, max
}

// MarshalJSON は次元名をキーとするオブジェクトとして出力します。
func (vs VectorSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(vs.Map())
}

// UnmarshalJSON は MarshalJSON の出力を読み込みます。
func (vs *VectorSet) UnmarshalJSON(data []byte) error {
	var m map[VectorKey]Vector
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	parsed, err := NewVectorSet(m)
	if err != nil {
		return err
	}
	*vs = parsed
	return nil
}
