package game

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"sync"
)

// Roller 随机数来源，Roll 返回 [0,100) 内的均匀分布浮点数
type Roller interface {
	Roll() float64
}

// CryptoRoller 基于 crypto/rand 的随机源，默认使用
type CryptoRoller struct{}

// NewCryptoRoller 创建加密随机源
func NewCryptoRoller() *CryptoRoller {
	return &CryptoRoller{}
}

// Roll 取53位随机数映射到 [0,100)
func (CryptoRoller) Roll() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand 在受支持的平台上不会失败
		panic("crypto/rand: " + err.Error())
	}
	v := binary.BigEndian.Uint64(buf[:]) >> 11
	return float64(v) / float64(uint64(1)<<53) * 100
}

// MathRoller 可指定种子的伪随机源，用于回放
type MathRoller struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

// NewMathRoller 创建伪随机源
func NewMathRoller(seed int64) *MathRoller {
	return &MathRoller{rng: mrand.New(mrand.NewSource(seed))}
}

// Roll 返回 [0,100)
func (m *MathRoller) Roll() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64() * 100
}

// FixedRoller 按顺序返回预设值，用完后重复最后一个
type FixedRoller struct {
	mu     sync.Mutex
	values []float64
	next   int
}

// NewFixedRoller 创建固定随机源
func NewFixedRoller(values ...float64) *FixedRoller {
	if len(values) == 0 {
		values = []float64{0}
	}
	return &FixedRoller{values: values}
}

// Roll 返回下一个预设值
func (f *FixedRoller) Roll() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.values[f.next]
	if f.next < len(f.values)-1 {
		f.next++
	}
	return v
}

// Reset 替换预设值并从头开始
func (f *FixedRoller) Reset(values ...float64) {
	if len(values) == 0 {
		values = []float64{0}
	}
	f.mu.Lock()
	f.values = values
	f.next = 0
	f.mu.Unlock()
}

// RollerFunc 函数适配器
type RollerFunc func() float64

// Roll 调用函数本身
func (fn RollerFunc) Roll() float64 {
	return fn()
}
