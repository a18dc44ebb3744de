package anyppo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	serializer.RegisterTypedDeserializer((&Checkpoint{}).SerializerType(),
		DeserializeCheckpoint)
}

// A Checkpoint captures everything needed to resume a
// training run.
//
// Optimizer moments are not included, so resumed runs
// restart the Adam state from zero.
type Checkpoint struct {
	Iteration    int
	RunID        string
	LearningRate float64

	AC *ActorCritic

	// RND is nil when intrinsic rewards are disabled.
	RND *RND
}

// DeserializeCheckpoint deserializes a Checkpoint.
func DeserializeCheckpoint(d []byte) (ck *Checkpoint, err error) {
	defer essentials.AddCtxTo("deserialize checkpoint", &err)
	var iteration int
	var runID string
	var lr float64
	var ac *ActorCritic
	var hasRND bool
	var rndData []byte
	err = serializer.DeserializeAny(d, &iteration, &runID, &lr, &ac, &hasRND,
		&rndData)
	if err != nil {
		return nil, err
	}
	ck = &Checkpoint{
		Iteration:    iteration,
		RunID:        runID,
		LearningRate: lr,
		AC:           ac,
	}
	if hasRND {
		ck.RND, err = DeserializeRND(rndData)
		if err != nil {
			return nil, err
		}
	}
	return ck, nil
}

// SerializerType returns the unique ID used to serialize
// a Checkpoint.
func (c *Checkpoint) SerializerType() string {
	return "github.com/unixpickle/anyppo.Checkpoint"
}

// Serialize serializes the Checkpoint.
func (c *Checkpoint) Serialize() ([]byte, error) {
	var rndData []byte
	if c.RND != nil {
		var err error
		rndData, err = c.RND.Serialize()
		if err != nil {
			return nil, err
		}
	}
	return serializer.SerializeAny(c.Iteration, c.RunID, c.LearningRate, c.AC,
		c.RND != nil, rndData)
}

// A CheckpointSaver persists checkpoints during training.
type CheckpointSaver interface {
	Save(ck *Checkpoint) error
}

// FileSaver saves checkpoints as numbered files in a
// directory, creating the directory as needed.
type FileSaver struct {
	Dir string
}

// Save writes the checkpoint to Dir/model_<iteration>.
func (f *FileSaver) Save(ck *Checkpoint) (err error) {
	defer essentials.AddCtxTo("save checkpoint", &err)
	if err := os.MkdirAll(f.Dir, 0755); err != nil {
		return err
	}
	path := filepath.Join(f.Dir, fmt.Sprintf("model_%d", ck.Iteration))
	return serializer.SaveAny(path, ck)
}

// LoadCheckpoint reads a checkpoint written by a
// FileSaver.
func LoadCheckpoint(path string) (ck *Checkpoint, err error) {
	defer essentials.AddCtxTo("load checkpoint", &err)
	if err := serializer.LoadAny(path, &ck); err != nil {
		return nil, err
	}
	return ck, nil
}
